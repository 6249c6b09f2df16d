package main

import (
	"bufio"
	"log"
	"os"
)

// ControlChannel is the line-oriented PTY control surface of spec.md §6
// ("Control channel (PTY)"). It reads one command per line and funnels
// each onto the reflector's shared event channel, blocking for the
// run-loop's reply before writing it back to the PTY.
type ControlChannel struct {
	f      *os.File
	events chan *event
}

// NewControlChannel opens path for read/write and wires it to events. A
// blank path disables the control channel entirely; callers must still
// be able to call Serve on the nil result.
func NewControlChannel(path string, events chan *event) (*ControlChannel, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	return &ControlChannel{f: f, events: events}, nil
}

// Serve starts the read loop. A nil receiver is a no-op so callers don't
// need to guard every call site when the control channel is disabled.
func (c *ControlChannel) Serve() {
	if c == nil {
		return
	}
	go c.readLoop()
}

func (c *ControlChannel) readLoop() {
	scanner := bufio.NewScanner(c.f)
	for scanner.Scan() {
		line := scanner.Text()
		respCh := make(chan string, 1)
		c.events <- &event{kind: evControlCommand, cmd: line, respCh: respCh}
		reply := <-respCh
		if _, err := c.f.WriteString(reply); err != nil {
			log.Printf("control: write error: %v", err)
			return
		}
	}
	if err := scanner.Err(); err != nil {
		log.Printf("control: read error: %v", err)
	}
}
