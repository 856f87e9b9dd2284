// Package events publishes run and phase lifecycle events to NATS so the
// management plane can stream progress to connected clients. Publishing is
// fire-and-forget: a dropped event loses a progress update, never pipeline
// state, so failures are logged and discarded.
package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Event types emitted over the run's lifetime.
const (
	RunStarted     = "run_started"
	RunCompleted   = "run_completed"
	RunFailed      = "run_failed"
	RunCancelled   = "run_cancelled"
	PhaseStarted   = "phase_started"
	PhaseCompleted = "phase_completed"
	PhaseFailed    = "phase_failed"
)

// Event is one lifecycle notification. Subjects follow
// pipeline.{projectID}.{taskID}.{type} so consumers can subscribe to a
// project, a task, or everything with wildcards.
type Event struct {
	Type       string    `json:"type"`
	WorkflowID string    `json:"workflowId"`
	ProjectID  string    `json:"projectId"`
	TaskID     string    `json:"taskId"`
	Phase      string    `json:"phase,omitempty"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Publisher emits lifecycle events.
type Publisher interface {
	Publish(event Event)
	Close()
}

type publisher struct {
	nc     *nats.Conn
	logger *zap.Logger
}

// NewPublisher connects to NATS. The connection reconnects automatically;
// events published while disconnected are dropped like any other publish
// failure.
func NewPublisher(url string, logger *zap.Logger) (Publisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	nc, err := nats.Connect(url,
		nats.Name("specd-pipeline"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	return &publisher{nc: nc, logger: logger}, nil
}

// Publish emits the event. Failures are logged and discarded.
func (p *publisher) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	subject := fmt.Sprintf("pipeline.%s.%s.%s",
		subjectToken(event.ProjectID), subjectToken(event.TaskID), subjectToken(event.Type))

	data, err := json.Marshal(event)
	if err != nil {
		p.logger.Warn("drop run event, marshal failed", zap.String("subject", subject), zap.Error(err))
		return
	}

	if err := p.nc.Publish(subject, data); err != nil {
		p.logger.Warn("drop run event, publish failed", zap.String("subject", subject), zap.Error(err))
	}
}

func (p *publisher) Close() {
	p.nc.Drain()
}

// subjectToken makes an identifier safe as one NATS subject token. Dots,
// spaces, and wildcards would change the subject hierarchy.
func subjectToken(s string) string {
	if s == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', ' ', '*', '>':
			return '_'
		}
		return r
	}, s)
}

// nopPublisher drops everything. Used when event streaming is disabled.
type nopPublisher struct{}

// NewNopPublisher returns a Publisher that discards all events.
func NewNopPublisher() Publisher { return nopPublisher{} }

func (nopPublisher) Publish(Event) {}
func (nopPublisher) Close()        {}

var _ Publisher = (*publisher)(nil)
