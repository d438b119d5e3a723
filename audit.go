package authcore

import (
	"context"
	"io"

	"github.com/templeworks/authcore/internal/audit"
)

// Aliases so callers can implement sinks and consume events without
// importing the internal package.
type (
	AuditEvent = audit.Event
	AuditSink  = audit.Sink
)

// NewAuditChannelSink returns a sink that hands events to a channel.
func NewAuditChannelSink(buffer int) *audit.ChannelSink {
	return audit.NewChannelSink(buffer)
}

// NewJSONAuditSink returns a sink that writes one JSON-encoded event per line.
func NewJSONAuditSink(w io.Writer) *audit.JSONWriterSink {
	return audit.NewJSONWriterSink(w)
}

// Audit event types emitted by the engine.
const (
	EventLogin            = "auth.login"
	EventLockout          = "auth.lockout"
	EventLogout           = "auth.logout"
	EventRefresh          = "auth.refresh"
	EventRegister         = "auth.register"
	EventEmailVerified    = "auth.email_verified"
	EventOTPRequested     = "auth.otp_requested"
	EventOTPVerified      = "auth.otp_verified"
	EventPasswordChanged  = "auth.password_changed"
	EventTwoFactorSetup   = "auth.two_factor_setup"
	EventTwoFactorConfirm = "auth.two_factor_confirmed"
	EventTwoFactorDisable = "auth.two_factor_disabled"
	EventAdminCreated     = "auth.admin_created"
	EventAccountStatus    = "auth.account_status_changed"
)

func (e *Engine) emitAudit(ctx context.Context, eventType string, account *Account, success bool, reason string) {
	if e.audit == nil {
		return
	}
	event := audit.Event{
		Timestamp: e.clock.Now(),
		Type:      eventType,
		Success:   success,
		Reason:    reason,
		IP:        clientIPFrom(ctx),
		UserAgent: userAgentFrom(ctx),
	}
	if account != nil {
		event.AccountID = account.ID
		event.Email = account.Email
	}
	e.audit.Emit(event)
}
