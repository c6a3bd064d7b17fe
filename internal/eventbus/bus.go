// Package eventbus forwards committed engine events to a message queue.
// Implementations can be backed by Kafka, Redis Streams, or a no-op for dev.
package eventbus

import (
    "encoding/json"
    "strconv"

    "github.com/cuihairu/croupier-economy/internal/ports"
)

// Message is the wire form shared by every backend.
type Message struct {
    Key     string
    Kind    string
    Topic   string
    Payload []byte
}

func encode(ev *ports.Event) (Message, error) {
    b, err := json.Marshal(ev)
    if err != nil { return Message{}, err }
    return Message{
        Key:     strconv.FormatUint(ev.GameID, 10),
        Kind:    string(ev.Kind),
        Topic:   ev.Kind.Topic().Hex(),
        Payload: b,
    }, nil
}

type Noop struct{}

func NewNoop() *Noop { return &Noop{} }
func (n *Noop) Publish(*ports.Event) error { return nil }
func (n *Noop) Close() error               { return nil }

// Multi fans one event out to several publishers and reports the first error.
type Multi []ports.EventPublisher

func (m Multi) Publish(ev *ports.Event) error {
    var first error
    for _, p := range m {
        if err := p.Publish(ev); err != nil && first == nil { first = err }
    }
    return first
}

func (m Multi) Close() error {
    var first error
    for _, p := range m {
        if err := p.Close(); err != nil && first == nil { first = err }
    }
    return first
}
