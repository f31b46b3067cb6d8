package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/gema-judge-api/internal/models"
	"github.com/noah-isme/gema-judge-api/internal/observability"
)

// JudgedEvent is broadcast after a submission reaches DONE.
type JudgedEvent struct {
	SubmissionID   string    `json:"submission_id"`
	StudentID      *uint     `json:"student_id,omitempty"`
	ProblemID      uint      `json:"problem_id"`
	Status         string    `json:"status"`
	Score          float64   `json:"score"`
	MaxScore       float64   `json:"max_score"`
	Solved         bool      `json:"solved"`
	LocalExecution bool      `json:"local_execution"`
	JudgedAt       time.Time `json:"judged_at"`
	CorrelationID  string    `json:"correlation_id,omitempty"`
}

// JudgedEventPublisher announces judged submissions to interested consumers.
type JudgedEventPublisher interface {
	PublishJudged(ctx context.Context, submission models.Submission) error
}

type natsJudgedPublisher struct {
	conn    *nats.Conn
	subject string
	logger  zerolog.Logger
	tracer  trace.Tracer
}

// NewJudgedEventPublisher publishes judged events on subject. A nil connection disables publishing.
func NewJudgedEventPublisher(conn *nats.Conn, subject string, logger zerolog.Logger) JudgedEventPublisher {
	return &natsJudgedPublisher{
		conn:    conn,
		subject: subject,
		logger:  logger.With().Str("component", "judged_event_publisher").Logger(),
		tracer:  otel.Tracer("github.com/noah-isme/gema-judge-api/internal/service/events"),
	}
}

func (p *natsJudgedPublisher) PublishJudged(ctx context.Context, submission models.Submission) error {
	if p.conn == nil || p.subject == "" {
		return nil
	}

	_, span := p.tracer.Start(ctx, "events.publish_judged", trace.WithAttributes(
		attribute.String("submission.id", submission.ID.String()),
	))
	defer span.End()

	payload, err := json.Marshal(newJudgedEvent(ctx, submission, time.Now()))
	if err != nil {
		return err
	}

	if err := p.conn.Publish(p.subject, payload); err != nil {
		span.RecordError(err)
		observability.JudgedEvents().WithLabelValues("failed").Inc()
		return err
	}

	observability.JudgedEvents().WithLabelValues("published").Inc()
	p.logger.Debug().Str("submission_id", submission.ID.String()).Str("subject", p.subject).Msg("judged event published")
	return nil
}

func newJudgedEvent(ctx context.Context, submission models.Submission, now time.Time) JudgedEvent {
	judgedAt := now.UTC()
	if submission.CompletedAt != nil {
		judgedAt = submission.CompletedAt.UTC()
	}

	return JudgedEvent{
		SubmissionID:   submission.ID.String(),
		StudentID:      submission.StudentID,
		ProblemID:      submission.ProblemID,
		Status:         submission.Status,
		Score:          submission.Score,
		MaxScore:       submission.MaxScore,
		Solved:         submission.IsSolved(),
		LocalExecution: diagnosticBool(submission.Diagnostics, "local_execution"),
		JudgedAt:       judgedAt,
		CorrelationID:  observability.CorrelationID(ctx),
	}
}
