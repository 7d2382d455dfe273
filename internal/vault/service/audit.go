package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/securevault/pkg/slogx"
)

const (
	AuditReplayDetected    = "passkey_replay_detected"
	AuditAttestationFailed = "passkey_attestation_invalid"
	AuditBackupCodeUsed    = "backup_code_used"
	AuditTOTPDisabled      = "totp_disabled"
)

// AuditEvent is a security-relevant occurrence worth keeping apart from the
// request log.
type AuditEvent struct {
	Timestamp    time.Time
	Type         string
	UserID       string
	CredentialID string
	Error        string
}

type AuditSink interface {
	Emit(ctx context.Context, event AuditEvent)
}

type NoOpAuditSink struct{}

func (NoOpAuditSink) Emit(context.Context, AuditEvent) {}

// SlogAuditSink writes events as WARN records tagged audit=true, using the
// request logger when one is in the context.
type SlogAuditSink struct {
	Logger *slog.Logger
}

func (s SlogAuditSink) Emit(ctx context.Context, event AuditEvent) {
	log := s.Logger
	if log == nil {
		log = slogx.FromContext(ctx)
	}
	log.LogAttrs(ctx, slog.LevelWarn, "security event",
		slog.Bool("audit", true),
		slog.String("event_type", event.Type),
		slog.Time("at", event.Timestamp),
		slog.String("user_id", event.UserID),
		slog.String("credential_id", event.CredentialID),
		slog.String("error", event.Error),
	)
}

func emit(ctx context.Context, sink AuditSink, event AuditEvent) {
	if sink == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	sink.Emit(ctx, event)
}
