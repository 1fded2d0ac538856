// Package audit records security-relevant events (enrollment steps,
// authentication outcomes, confirmations) to a persistent log.
package audit

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"credential-server/backend/internal/audit/domain"
	auditrepo "credential-server/backend/internal/audit/repository"
)

// IPExtractor returns the client IP from the request context.
type IPExtractor func(context.Context) string

// AuditLogger writes a single audit event. LogEvent is best-effort: failures
// are logged and do not affect the caller.
type AuditLogger interface {
	LogEvent(ctx context.Context, e Event)
}

// Event is the caller-supplied part of an audit entry.
type Event struct {
	Username string
	Realm    string
	Serial   string
	Action   string
	Success  bool
	Info     string
}

// Logger implements AuditLogger using the audit repository and an optional IP extractor.
type Logger struct {
	repo        auditrepo.Repository
	ipExtractor IPExtractor
}

// NewLogger returns an AuditLogger that persists to repo and uses ipExtractor for client IP.
// ipExtractor may be nil; then IP is recorded as "unknown".
func NewLogger(repo auditrepo.Repository, ipExtractor IPExtractor) *Logger {
	return &Logger{repo: repo, ipExtractor: ipExtractor}
}

// LogEvent writes one audit log entry. Best-effort: errors are logged and not returned.
func (l *Logger) LogEvent(ctx context.Context, e Event) {
	if l.repo == nil {
		return
	}
	ip := "unknown"
	if l.ipExtractor != nil {
		if got := l.ipExtractor(ctx); got != "" {
			ip = got
		}
	}
	entry := &domain.AuditLog{
		ID:        uuid.New().String(),
		Username:  e.Username,
		Realm:     e.Realm,
		Serial:    e.Serial,
		Action:    e.Action,
		Success:   e.Success,
		IP:        ip,
		Info:      e.Info,
		CreatedAt: time.Now().UTC(),
	}
	if err := l.repo.Create(ctx, entry); err != nil {
		log.Printf("audit: failed to log event %s for %s: %v", e.Action, e.Serial, err)
	}
}

// Nop returns an AuditLogger that drops all events. Used in tests.
func Nop() *Logger { return &Logger{} }
