package domain

import (
	"sync"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// ActionLogger accumulates the logs emitted while an action executes. The
// logs are persisted together with the action.
type ActionLogger struct {
	mu       sync.Mutex
	reportID *uuid.UUID
	logs     []ActionLog
}

func NewActionLogger() *ActionLogger {
	return &ActionLogger{}
}

// SetReportID attaches subsequent report-less logs to the given report.
func (l *ActionLogger) SetReportID(id uuid.UUID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reportID = &id
	for i := range l.logs {
		if l.logs[i].ReportID == nil {
			l.logs[i].ReportID = &id
		}
	}
}

func (l *ActionLogger) Error(detail LogDetail) {
	l.append(LogLevelError, LogScopeReport, nil, "", detail)
}

func (l *ActionLogger) Warning(detail LogDetail) {
	l.append(LogLevelWarning, LogScopeReport, nil, "", detail)
}

func (l *ActionLogger) ParameterWarning(detail LogDetail) {
	l.append(LogLevelWarning, LogScopeParameter, nil, "", detail)
}

// ItemError records an error against a 1-based row index.
func (l *ActionLogger) ItemError(index int, trackingID string, detail LogDetail) {
	l.append(LogLevelError, LogScopeItem, &index, trackingID, detail)
}

func (l *ActionLogger) ItemWarning(index int, trackingID string, detail LogDetail) {
	l.append(LogLevelWarning, LogScopeItem, &index, trackingID, detail)
}

func (l *ActionLogger) append(level LogLevel, scope LogScope, index *int, trackingID string, detail LogDetail) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := ActionLog{
		ReportID: l.reportID,
		Index:    index,
		Type:     level,
		Scope:    scope,
		Detail:   datatypes.NewJSONType(detail),
	}
	if trackingID != "" {
		entry.TrackingID = &trackingID
	}
	l.logs = append(l.logs, entry)
}

// HasErrors reports whether any fatal error has been logged.
func (l *ActionLogger) HasErrors() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, entry := range l.logs {
		if entry.Fatal() {
			return true
		}
	}
	return false
}

// HasAnyError reports whether any error-level log exists, fatal or not.
func (l *ActionLogger) HasAnyError() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, entry := range l.logs {
		if entry.Type == LogLevelError {
			return true
		}
	}
	return false
}

// Logs returns a copy of the accumulated logs stamped with actionID.
func (l *ActionLogger) Logs(actionID int64) []*ActionLog {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*ActionLog, len(l.logs))
	for i, entry := range l.logs {
		entry.ActionID = actionID
		out[i] = &entry
	}
	return out
}

// Messages lists the messages of logs at the given level, in order.
func (l *ActionLogger) Messages(level LogLevel) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, entry := range l.logs {
		if entry.Type == level {
			out = append(out, entry.Message())
		}
	}
	return out
}
