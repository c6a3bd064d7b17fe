package eventbus

import (
    "context"
    "time"

    kafka "github.com/segmentio/kafka-go"

    "github.com/cuihairu/croupier-economy/internal/ports"
)

const DefaultKafkaTopic = "economy.events"

type kafkaPublisher struct {
    w       *kafka.Writer
    timeout time.Duration
}

// NewKafka publishes to topic keyed by game id so one game's events stay ordered within a partition.
func NewKafka(brokers []string, topic string) ports.EventPublisher {
    if len(brokers) == 0 { return NewNoop() }
    if topic == "" { topic = DefaultKafkaTopic }
    // Writers are safe for concurrent use
    w := &kafka.Writer{
        Addr:         kafka.TCP(brokers...),
        Topic:        topic,
        RequiredAcks: kafka.RequireOne,
        Balancer:     &kafka.Hash{},
        BatchTimeout: 50 * time.Millisecond,
    }
    return &kafkaPublisher{w: w, timeout: 2 * time.Second}
}

func kafkaMessage(m Message) kafka.Message {
    return kafka.Message{
        Key:   []byte(m.Key),
        Value: m.Payload,
        Headers: []kafka.Header{
            {Key: "kind", Value: []byte(m.Kind)},
            {Key: "topic", Value: []byte(m.Topic)},
        },
    }
}

func (p *kafkaPublisher) Publish(ev *ports.Event) error {
    m, err := encode(ev)
    if err != nil { return err }
    ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
    defer cancel()
    return p.w.WriteMessages(ctx, kafkaMessage(m))
}

func (p *kafkaPublisher) Close() error { return p.w.Close() }
