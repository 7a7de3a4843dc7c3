package recovery

import "context"

// Notification templates sent by the engine.
const (
	TemplateRecoverySessionIssued = "recovery_session_issued"
	TemplateObligationEscalated   = "obligation_escalated"
)

// RecipientKind distinguishes chef-facing from admin-facing messages.
type RecipientKind string

const (
	RecipientChef  RecipientKind = "chef"
	RecipientAdmin RecipientKind = "admin"
)

// Notification is a fire-and-forget message; the dispatcher picks the channel.
type Notification struct {
	RecipientKind RecipientKind
	Recipient     string
	Template      string
	Payload       map[string]any
}

// Notifier delivers notifications. Failures are logged by the engine and never
// roll back a committed transition.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}
