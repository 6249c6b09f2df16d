package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// reflectorVersion is reported to clients in ServerInfo and to MCP
// clients as the server's self-identification.
const reflectorVersion = "1.0.0"

// StartTime tracks process uptime for the status endpoint.
var StartTime time.Time

// DebugMode enables verbose logging.
var DebugMode bool

func main() {
	configFile := flag.String("config", "config.yaml", "Path to configuration file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	DebugMode = *debug
	StartTime = time.Now()

	cfg, err := LoadConfig(*configFile)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	transport, err := NewTransport(cfg.Global.ListenPort)
	if err != nil {
		log.Fatalf("failed to bind port %d: %v", cfg.Global.ListenPort, err)
	}

	var metrics *Metrics
	if cfg.Prometheus.Enabled {
		metrics = NewMetrics(cfg.Prometheus.PushGateway)
	}

	mqttPublisher, err := NewMQTTPublisher(cfg.MQTT)
	if err != nil {
		log.Printf("mqtt: disabled: %v", err)
	}

	geoip, err := NewGeoIPLookup(cfg.GeoIP)
	if err != nil {
		log.Printf("geoip: disabled: %v", err)
	}

	control, err := NewControlChannel(cfg.Global.CommandPTY, transport.Events)
	if err != nil {
		log.Printf("control: disabled: %v", err)
	}

	reflector := NewReflector(cfg, transport, control, metrics, mqttPublisher, geoip)

	transport.Serve()
	control.Serve()
	go reflector.Run()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if metrics != nil {
		go metrics.RunPusher(ctx, 15*time.Second)
	}

	mux := http.NewServeMux()
	mux.Handle("/status", NewStatusServer(reflector))
	if cfg.Prometheus.Enabled {
		mux.Handle("/metrics", promhttp.Handler())
	}
	if cfg.MCP.Enabled {
		mcpServer := NewMCPServer(reflector)
		mux.Handle("/mcp", mcpServer.Handler())
	}

	httpAddr := cfg.Global.HTTPAddr()
	httpSrv := &http.Server{Addr: httpAddr, Handler: mux}
	go func() {
		log.Printf("http server listening on %s", httpAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("http server error: %v", err)
		}
	}()

	log.Printf("svxreflector listening on port %d (tcp+udp)", cfg.Global.ListenPort)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Printf("shutting down")
	cancel()
	reflector.Stop()
	transport.Close()
	httpSrv.Close()
	mqttPublisher.Close()
	geoip.Close()
}
