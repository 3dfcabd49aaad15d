package audit

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// AlertSink receives critical audit events for out-of-process escalation.
type AlertSink interface {
	PublishComplianceAlert(ctx context.Context, alertType string, severity string, details map[string]interface{}) error
}

// Entry is a single audit trail record.
type Entry struct {
	Timestamp time.Time              `json:"timestamp"`
	Event     string                 `json:"event"`
	Severity  Severity               `json:"severity"`
	Details   map[string]interface{} `json:"details"`
}

// Logger writes the append-only compliance audit trail. Audit writes must
// never fail a compliance decision, so Record returns nothing.
type Logger struct {
	log    *logrus.Logger
	alerts AlertSink
}

func NewLogger(log *logrus.Logger) *Logger {
	return &Logger{log: log}
}

// SetAlertSink attaches an escalation channel for critical entries.
func (l *Logger) SetAlertSink(sink AlertSink) {
	l.alerts = sink
}

// Record appends one entry to the audit trail. Critical entries are also
// forwarded to the alert sink when one is attached.
func (l *Logger) Record(ctx context.Context, event string, severity Severity, details map[string]interface{}) {
	entry := l.log.WithFields(logrus.Fields{
		"audit_event": event,
		"severity":    string(severity),
	})
	for key, value := range details {
		entry = entry.WithField(key, value)
	}

	switch severity {
	case SeverityCritical:
		entry.Error("audit event recorded")
	case SeverityHigh:
		entry.Warn("audit event recorded")
	default:
		entry.Info("audit event recorded")
	}

	if severity == SeverityCritical && l.alerts != nil {
		if err := l.alerts.PublishComplianceAlert(ctx, event, string(severity), details); err != nil {
			l.log.WithError(err).Warn("Failed to publish compliance alert")
		}
	}
}
