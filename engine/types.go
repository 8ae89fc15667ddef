package engine

import (
	"context"
	"errors"
	"time"

	"leadflow/models"
)

// Config carries the engine tunables. Values mirror
// config.AppConfig.Automation; the engine takes its own copy so tests can
// run it without environment plumbing.
type Config struct {
	BatchSize         int
	MaxRetryAttempts  int
	RetryDelay        time.Duration
	DuplicateWindow   time.Duration
	SendDelay         time.Duration
	SendingStaleAfter time.Duration
	LeaseTTL          time.Duration
	DefaultStageDelay time.Duration

	// AllowFallbackTransport permits sending through the process-wide SMTP
	// account when an owner has no sender configured. Reply sending never
	// falls back regardless of this flag.
	AllowFallbackTransport bool
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:         50,
		MaxRetryAttempts:  10,
		RetryDelay:        5 * time.Minute,
		DuplicateWindow:   2 * time.Hour,
		SendDelay:         time.Second,
		SendingStaleAfter: 10 * time.Minute,
		LeaseTTL:          2 * time.Minute,
		DefaultStageDelay: 7 * 24 * time.Hour,
	}
}

// OutboundMessage is one rendered email handed to the transport.
type OutboundMessage struct {
	To        string
	FromName  string
	FromEmail string
	Subject   string
	HTMLBody  string
	TextBody  string

	// Trace headers (lead id, stage, retry count) for observability.
	Headers map[string]string
}

// Mailer sends a rendered email through the owner's transport and returns
// the message id. A nil sender means "use the process-wide fallback if
// permitted".
type Mailer interface {
	Send(ctx context.Context, sender *models.Sender, msg OutboundMessage) (string, error)
}

// GenerationRequest is one call to the AI content generator.
type GenerationRequest struct {
	Instruction string
	Context     map[string]string
	Skeleton    string
}

// ContentGenerator produces a prose/HTML fragment for a modular template or
// a reply draft. Implementations must enforce a response-size ceiling and a
// call timeout; an empty result is the generator's failure, not the
// caller's.
type ContentGenerator interface {
	Generate(ctx context.Context, req GenerationRequest) (string, error)
}

// LeadFailure records why one lead failed during a batch, for the run
// summary.
type LeadFailure struct {
	LeadID uint   `json:"lead_id"`
	Email  string `json:"email"`
	Reason string `json:"reason"`
}

// Summary aggregates one batch invocation.
type Summary struct {
	RunID     uint          `json:"run_id"`
	Eligible  int           `json:"eligible"`
	Processed int           `json:"processed"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Retried   int           `json:"retried"`
	Skipped   int           `json:"skipped"`
	Failures  []LeadFailure `json:"failures,omitempty"`
}

// Sentinel errors for stage resolution and template lookup.
var (
	// ErrSequenceComplete signals that seven emails have been sent.
	ErrSequenceComplete = errors.New("sequence complete: 7 emails sent")

	// ErrRetryBudgetExhausted signals that the failure ceiling was reached.
	ErrRetryBudgetExhausted = errors.New("max retry attempts exceeded")

	// ErrRecentDuplicate signals a sent entry inside the
	// duplicate-suppression window; the lead is skipped this cycle.
	ErrRecentDuplicate = errors.New("recent send for this stage, skipping cycle")

	// ErrNoTemplate is the configuration error returned when no active
	// template exists for a stage. There is no cross-stage fallback.
	ErrNoTemplate = errors.New("no template configured for stage")

	// ErrNoSender is the configuration error returned when an owner has no
	// usable mail transport.
	ErrNoSender = errors.New("no sender configured")

	// ErrEmptyGeneration is returned when the AI generator produces empty
	// or too-short content. The send fails closed.
	ErrEmptyGeneration = errors.New("generator returned empty or too-short content")
)
