// Package audit records security-relevant gate decisions: token rejections,
// permission denials, webhook rejections, and rate-limit refusals. Audit
// records are kept separate from application logs because they have different
// consumers and retention requirements; the Shipper interface routes them to
// one or more destinations (file, webhook, slog) independently of the
// service's own logging pipeline.
//
// Entries never contain raw credentials. Actors are masked token displays,
// client addresses, or webhook instance URLs.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Gate decision actions.
const (
	ActionTokenAccepted    = "auth.token.accepted"
	ActionTokenRejected    = "auth.token.rejected"
	ActionPermissionDenied = "auth.permission.denied"
	ActionWebhookAccepted  = "webhook.accepted"
	ActionWebhookRejected  = "webhook.rejected"
	ActionRateLimited      = "ratelimit.exceeded"
	ActionInternalError    = "gate.internal_error"
)

// Entry is one audit record. Exactly one entry is recorded per gate
// decision; a request rejected by the first failing check produces one
// entry, not one per middleware it would have traversed.
type Entry struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Action    string         `json:"action"`
	Actor     string         `json:"actor,omitempty"`
	Resource  string         `json:"resource,omitempty"`
	Success   bool           `json:"success"`
	Code      string         `json:"code,omitempty"`
	OriginIP  string         `json:"origin_ip,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Shipper delivers audit entries to a destination.
type Shipper interface {
	// Ship sends one entry. Implementations must not mutate it.
	Ship(ctx context.Context, entry *Entry) error
	// Close releases the destination's resources, flushing anything queued.
	Close() error
}

// Recorder stamps and ships entries. Shipping failures are logged, never
// propagated to the request path: an audit outage must not take the gate
// down with it.
type Recorder struct {
	shipper Shipper
	logger  *slog.Logger
	now     func() time.Time
}

// NewRecorder wraps a shipper. A nil shipper yields a recorder that drops
// entries, which keeps call sites unconditional.
func NewRecorder(shipper Shipper, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{shipper: shipper, logger: logger, now: time.Now}
}

// Record assigns the entry's ID and timestamp and ships it.
func (r *Recorder) Record(ctx context.Context, entry *Entry) {
	if r == nil || r.shipper == nil {
		return
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = r.now()
	}
	if err := r.shipper.Ship(ctx, entry); err != nil {
		r.logger.Error("audit ship failed",
			"action", entry.Action,
			"audit_id", entry.ID,
			"error", err)
	}
}

// Close flushes and closes the underlying shipper.
func (r *Recorder) Close() error {
	if r == nil || r.shipper == nil {
		return nil
	}
	return r.shipper.Close()
}
