// Package broadcast fans room-scoped events out to live connections.
package broadcast

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mossy-p/stream-rooms/internal/logger"
	"github.com/mossy-p/stream-rooms/internal/models"
)

// Conn is a live connection that accepts encoded frames without blocking.
// Send reports false when the frame was dropped.
type Conn interface {
	ID() string
	Send(data []byte) bool
}

// Broadcaster is the directory of attached connections. It has no notion of
// rooms; callers pass the member list at emit time.
type Broadcaster struct {
	mu    sync.RWMutex
	conns map[string]Conn
}

func New() *Broadcaster {
	return &Broadcaster{conns: make(map[string]Conn)}
}

func (b *Broadcaster) Attach(c Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conns[c.ID()] = c
}

func (b *Broadcaster) Detach(connectionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.conns, connectionID)
}

// Emit encodes the event once and delivers it to every listed connection that is
// still attached. It returns the number of connections that accepted the frame.
func (b *Broadcaster) Emit(connectionIDs []string, event models.EventType, payload interface{}) (int, error) {
	if len(connectionIDs) == 0 {
		return 0, nil
	}

	data, err := Encode(event, payload)
	if err != nil {
		return 0, err
	}

	b.mu.RLock()
	targets := make([]Conn, 0, len(connectionIDs))
	for _, id := range connectionIDs {
		if c, ok := b.conns[id]; ok {
			targets = append(targets, c)
		}
	}
	b.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		if c.Send(data) {
			delivered++
			continue
		}
		l := logger.L()
		l.Warn().Str(logger.FieldConnectionID, c.ID()).Str(logger.FieldEvent, string(event)).Msg("dropped frame, send buffer full")
	}
	return delivered, nil
}

// EmitTo delivers one event to a single connection
func (b *Broadcaster) EmitTo(connectionID string, event models.EventType, payload interface{}) (bool, error) {
	n, err := b.Emit([]string{connectionID}, event, payload)
	return n == 1, err
}

// Encode builds the wire frame for an event
func Encode(event models.EventType, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(models.OutboundEnvelope{Event: event, Data: payload})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s event: %w", event, err)
	}
	return data, nil
}
