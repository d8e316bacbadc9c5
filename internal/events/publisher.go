package events

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"reserva/backend/internal/domain"
)

type Type string

const (
	BookingCreated   Type = "booking.created"
	BookingCancelled Type = "booking.cancelled"
)

type BookingEvent struct {
	EventID        string    `json:"event_id"`
	EventType      Type      `json:"event_type"`
	OccurredAt     time.Time `json:"occurred_at"`
	TenantID       string    `json:"tenant_id"`
	BookingID      string    `json:"booking_id"`
	ProfessionalID string    `json:"professional_id"`
	ServiceID      string    `json:"service_id"`
	CustomerID     string    `json:"customer_id"`
	StartTime      time.Time `json:"start_time"`
	EndTime        time.Time `json:"end_time"`
	Status         string    `json:"status"`
}

func NewBookingEvent(t Type, b domain.Booking, at time.Time) BookingEvent {
	return BookingEvent{
		EventID:        uuid.NewString(),
		EventType:      t,
		OccurredAt:     at.UTC(),
		TenantID:       b.TenantID,
		BookingID:      b.ID.String(),
		ProfessionalID: b.ProfessionalID.String(),
		ServiceID:      b.ServiceID.String(),
		CustomerID:     b.CustomerID,
		StartTime:      b.StartTime.UTC(),
		EndTime:        b.EndTime.UTC(),
		Status:         string(b.Status),
	}
}

type Publisher interface {
	Publish(ctx context.Context, ev BookingEvent) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	writer messageWriter
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 50 * time.Millisecond,
		},
	}
}

// Publish keys messages by booking id so every event of one booking lands on
// the same partition in order.
func (p *KafkaPublisher) Publish(ctx context.Context, ev BookingEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.BookingID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(ev.EventID)},
			{Key: "event_type", Value: []byte(ev.EventType)},
			{Key: "tenant_id", Value: []byte(ev.TenantID)},
		},
	})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

type Noop struct{}

func (Noop) Publish(ctx context.Context, ev BookingEvent) error { return nil }

func (Noop) Close() error { return nil }

func SplitBrokers(raw string) []string {
	var brokers []string
	for _, b := range strings.Split(raw, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
