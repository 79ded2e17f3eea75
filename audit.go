package authclient

import (
	"context"
	"errors"

	internalaudit "github.com/MrEthical07/authclient/internal/audit"
)

// Audit event types.
const (
	AuditEventSignIn              = internalaudit.EventSignIn
	AuditEventSignUp              = internalaudit.EventSignUp
	AuditEventSignOut             = internalaudit.EventSignOut
	AuditEventResetRequested      = internalaudit.EventResetRequested
	AuditEventConfirmationResent  = internalaudit.EventConfirmationResent
	AuditEventRecoveryEstablished = internalaudit.EventRecoveryEstablished
	AuditEventRecoveryRejected    = internalaudit.EventRecoveryRejected
	AuditEventPasswordUpdated     = internalaudit.EventPasswordUpdated
	AuditEventPasswordRejected    = internalaudit.EventPasswordRejected
	AuditEventRateLimited         = internalaudit.EventRateLimited
	AuditEventSessionChanged      = internalaudit.EventSessionChanged
)

// emitAudit records an event. Only the sentinel code of err is recorded;
// raw backend text stays in logs.
func (m *Manager) emitAudit(ctx context.Context, eventType string, success bool, userID string, err error, metadata func() map[string]string) {
	if m == nil || m.audit == nil {
		return
	}

	event := AuditEvent{
		EventType:     eventType,
		UserID:        userID,
		CorrelationID: CorrelationIDFromContext(ctx),
		Success:       success,
	}
	if err != nil {
		event.Error = auditErrorCode(err)
	}
	if metadata != nil {
		event.Metadata = metadata()
		if id, ok := event.Metadata["correlation_id"]; ok {
			if event.CorrelationID == "" {
				event.CorrelationID = id
			}
			delete(event.Metadata, "correlation_id")
		}
	}

	m.audit.Emit(ctx, event)
}

func auditErrorCode(err error) string {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.Is(err, ErrPasswordMismatch):
		return "password_mismatch"
	case errors.Is(err, ErrPasswordRequired):
		return "password_required"
	case errors.Is(err, ErrCredentialsRequired), errors.Is(err, ErrEmailRequired):
		return "input_required"
	case errors.Is(err, ErrOperationSuperseded):
		return "superseded"
	}
	for _, s := range []error{
		ErrServiceUnavailable, ErrRateLimited, ErrInvalidCredentials, ErrEmailNotConfirmed,
		ErrPasswordReuse, ErrPasswordPolicy, ErrAccountExists, ErrRecoveryLinkInvalid,
	} {
		if errors.Is(err, s) {
			return sentinelCode(s)
		}
	}
	return sentinelCode(ErrUnexpected)
}

// AuditDropped returns the number of audit events dropped under backpressure.
func (m *Manager) AuditDropped() uint64 {
	if m == nil {
		return 0
	}
	return m.audit.Dropped()
}
