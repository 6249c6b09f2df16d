package main

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTPublisher publishes reflector talker and session lifecycle events
// to an MQTT broker for external telemetry consumers.
type MQTTPublisher struct {
	client mqtt.Client
	topic  string
}

// TalkerEvent is the JSON payload published on talker-start/stop.
type TalkerEvent struct {
	Timestamp int64  `json:"timestamp"`
	Event     string `json:"event"`
	TG        uint32 `json:"tg"`
	Callsign  string `json:"callsign"`
}

// NodeEvent is the JSON payload published on node join/leave.
type NodeEvent struct {
	Timestamp int64  `json:"timestamp"`
	Event     string `json:"event"`
	Callsign  string `json:"callsign"`
}

func generateMQTTClientID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return "svxreflector_" + hex.EncodeToString(b)
}

// NewMQTTPublisher connects to the configured broker. Returns nil, nil
// if MQTT is disabled.
func NewMQTTPublisher(cfg MQTTConfig) (*MQTTPublisher, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = generateMQTTClientID()
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if token.WaitTimeout(5*time.Second) && token.Error() != nil {
		return nil, fmt.Errorf("mqtt: connect failed: %w", token.Error())
	}

	topic := cfg.Topic
	if topic == "" {
		topic = "svxreflector/events"
	}

	return &MQTTPublisher{client: client, topic: topic}, nil
}

func (p *MQTTPublisher) publish(subtopic string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("mqtt: marshal failed: %v", err)
		return
	}
	token := p.client.Publish(p.topic+"/"+subtopic, 0, false, data)
	go func() {
		if token.WaitTimeout(2*time.Second) && token.Error() != nil {
			log.Printf("mqtt: publish to %s failed: %v", subtopic, token.Error())
		}
	}()
}

// PublishTalkerStart publishes a talker-start event.
func (p *MQTTPublisher) PublishTalkerStart(tg uint32, callsign string) {
	p.publish("talker", TalkerEvent{Timestamp: time.Now().Unix(), Event: "start", TG: tg, Callsign: callsign})
}

// PublishTalkerStop publishes a talker-stop event.
func (p *MQTTPublisher) PublishTalkerStop(tg uint32, callsign string) {
	p.publish("talker", TalkerEvent{Timestamp: time.Now().Unix(), Event: "stop", TG: tg, Callsign: callsign})
}

// PublishNodeJoined publishes a node-joined event.
func (p *MQTTPublisher) PublishNodeJoined(callsign string) {
	p.publish("node", NodeEvent{Timestamp: time.Now().Unix(), Event: "joined", Callsign: callsign})
}

// PublishNodeLeft publishes a node-left event.
func (p *MQTTPublisher) PublishNodeLeft(callsign string) {
	p.publish("node", NodeEvent{Timestamp: time.Now().Unix(), Event: "left", Callsign: callsign})
}

// Close disconnects from the broker.
func (p *MQTTPublisher) Close() {
	if p == nil {
		return
	}
	p.client.Disconnect(250)
}
