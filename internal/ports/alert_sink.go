package ports

import "context"

// Severity grades an AlertSink notification.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// AlertSink delivers best-effort out-of-band notifications. Any wallet
// address placed in fields must already be masked by the caller — AlertSink
// implementations do not re-mask.
type AlertSink interface {
	Notify(ctx context.Context, severity Severity, event string, fields map[string]string) error
}
