package incident

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Kind classifies one incident record.
type Kind string

const (
	// KindCircuitTrip records a circuit transitioning to OPEN.
	KindCircuitTrip Kind = "circuit_trip"

	// KindPhaseChange records an enforcement phase transition.
	KindPhaseChange Kind = "phase_change"

	// KindThresholdAdjustment records an auto-tune threshold change.
	KindThresholdAdjustment Kind = "threshold_adjustment"

	// KindEscalation records a risk-saturation escalation to arbitration.
	KindEscalation Kind = "escalation"

	// KindDenied records a denied action.
	KindDenied Kind = "denied"
)

// Record is one append-only incident entry.
type Record struct {
	ID        string            `json:"id"`
	Kind      Kind              `json:"kind"`
	Time      time.Time         `json:"time"`
	SessionID string            `json:"session_id,omitempty"`
	Domain    string            `json:"domain,omitempty"`
	Subject   string            `json:"subject,omitempty"`
	Detail    map[string]string `json:"detail,omitempty"`
}

// Filter narrows a Query. Zero fields match everything.
type Filter struct {
	Kind      Kind
	SessionID string
	Domain    string
	Since     time.Time
	Until     time.Time
	Limit     int
}

// ErrStorageClosed is returned by operations on a closed storage.
var ErrStorageClosed = errors.New("incident storage closed")

// Storage persists incident records.
type Storage interface {
	// Append stores one record.
	Append(ctx context.Context, rec *Record) error

	// Query returns records matching the filter, newest first.
	Query(ctx context.Context, filter Filter) ([]*Record, error)

	// Prune deletes records older than cutoff and, when maxRecords > 0,
	// trims the log to the newest maxRecords entries. Returns the number
	// of records deleted.
	Prune(ctx context.Context, cutoff time.Time, maxRecords int) (int, error)

	// Close releases storage resources.
	Close() error
}

// Log is the engine-facing writer. It assigns IDs and timestamps and
// swallows storage failures after logging them; the incident log must not
// affect decisions.
type Log struct {
	storage Storage
	logger  *slog.Logger
}

// NewLog creates a Log over the given storage.
func NewLog(storage Storage, logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{
		storage: storage,
		logger:  logger.With("component", "incident"),
	}
}

// Record appends one incident.
func (l *Log) Record(ctx context.Context, kind Kind, sessionID, domain, subject string, detail map[string]string) {
	rec := &Record{
		ID:        uuid.NewString(),
		Kind:      kind,
		Time:      time.Now(),
		SessionID: sessionID,
		Domain:    domain,
		Subject:   subject,
		Detail:    detail,
	}
	if err := l.storage.Append(ctx, rec); err != nil {
		l.logger.Warn("incident not recorded", "kind", kind, "error", err)
	}
}

// CircuitTrip records a circuit trip.
func (l *Log) CircuitTrip(ctx context.Context, sessionID, circuit string, tripCount, backoffLevel int) {
	l.Record(ctx, KindCircuitTrip, sessionID, "", circuit, map[string]string{
		"trip_count":    strconv.Itoa(tripCount),
		"backoff_level": strconv.Itoa(backoffLevel),
	})
}

// PhaseChange records an enforcement phase transition.
func (l *Log) PhaseChange(ctx context.Context, domain, from, to, why string) {
	l.Record(ctx, KindPhaseChange, "", domain, from+"->"+to, map[string]string{"why": why})
}

// ThresholdAdjustment records an auto-tune adjustment.
func (l *Log) ThresholdAdjustment(ctx context.Context, domain string, from, to int, why string) {
	l.Record(ctx, KindThresholdAdjustment, "", domain, why, map[string]string{
		"from": strconv.Itoa(from),
		"to":   strconv.Itoa(to),
	})
}

// Escalation records a risk-saturation escalation.
func (l *Log) Escalation(ctx context.Context, sessionID, tool, outcome string) {
	l.Record(ctx, KindEscalation, sessionID, "", tool, map[string]string{"outcome": outcome})
}

// Denied records a denied action with its responsible rule or check.
func (l *Log) Denied(ctx context.Context, sessionID, cause, reason string) {
	l.Record(ctx, KindDenied, sessionID, "", cause, map[string]string{"reason": reason})
}

