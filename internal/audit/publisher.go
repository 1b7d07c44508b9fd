// Package audit feeds terminal job events into a durable RabbitMQ queue.
// cmd/worker drains it into request_logs.
package audit

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/soragate/soragate/internal/store"
)

type Publisher struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

// TerminalEvent is the wire form of one finished job.
type TerminalEvent struct {
	JobID        string          `json:"job_id"`
	TaskID       string          `json:"task_id,omitempty"`
	CredentialID uint            `json:"credential_id"`
	Model        string          `json:"model"`
	Kind         string          `json:"kind"`
	Status       store.JobStatus `json:"status"`
	Progress     int             `json:"progress"`
	ResultURLs   []string        `json:"result_urls,omitempty"`
	Error        string          `json:"error,omitempty"`
	FinishedAt   time.Time       `json:"finished_at"`
}

func NewPublisher(url, queue string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	if err := DeclareTopology(ch, queue); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}

	return &Publisher{conn: conn, ch: ch, queue: queue}, nil
}

// DeclareTopology sets up the main/retry/DLQ trio shared with the worker.
func DeclareTopology(ch *amqp.Channel, queue string) error {
	mainQ := queue
	retryQ := queue + ".retry"
	dlqQ := queue + ".dlq"

	if _, err := ch.QueueDeclare(
		dlqQ,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false,
		nil,
	); err != nil {
		return err
	}

	// Retry queue: message TTL -> dead-letter back to main queue
	if _, err := ch.QueueDeclare(
		retryQ,
		true,
		false,
		false,
		false,
		amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": mainQ,
		},
	); err != nil {
		return err
	}

	// Main queue: dead-letter to DLQ on reject/nack(requeue=false)
	if _, err := ch.QueueDeclare(
		mainQ,
		true,
		false,
		false,
		false,
		amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": dlqQ,
		},
	); err != nil {
		return err
	}
	return nil
}

func (p *Publisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// PublishTerminal queues the finished job for the audit worker.
func (p *Publisher) PublishTerminal(ctx context.Context, rec *store.JobRecord) error {
	ev := TerminalEvent{
		JobID:        rec.ID,
		TaskID:       rec.TaskID,
		CredentialID: rec.CredentialID,
		Model:        rec.Model,
		Kind:         rec.Kind,
		Status:       rec.Status,
		Progress:     rec.Progress,
		ResultURLs:   rec.GetResultURLs(),
		FinishedAt:   time.Now(),
	}
	if rec.Error != nil {
		ev.Error = *rec.Error
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return p.ch.PublishWithContext(cctx,
		"",      // default exchange
		p.queue, // routing key = queue
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
}
