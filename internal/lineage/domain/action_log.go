package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type LogLevel string

const (
	LogLevelInfo    LogLevel = "info"
	LogLevelWarning LogLevel = "warning"
	LogLevelError   LogLevel = "error"
	LogLevelFilter  LogLevel = "filter"
)

type LogScope string

const (
	LogScopeReport    LogScope = "report"
	LogScopeItem      LogScope = "item"
	LogScopeParameter LogScope = "parameter"
)

// LogKind classifies the message carried by an ActionLog.
type LogKind string

const (
	KindDuplicateSubmission LogKind = "duplicate_submission"
	KindDuplicateItem       LogKind = "duplicate_item"
	KindInvalidContent      LogKind = "invalid_content"
	KindInvalidRow          LogKind = "invalid_row"
	KindMissingField        LogKind = "missing_field"
	KindInvalidReceiver     LogKind = "invalid_receiver"
	KindInvalidParameter    LogKind = "invalid_parameter"
	KindFilter              LogKind = "filter"
	KindRouting             LogKind = "routing"
)

// LogDetail is the JSON payload of an ActionLog.
type LogDetail struct {
	Kind                    LogKind  `json:"kind"`
	Message                 string   `json:"message"`
	FieldName               string   `json:"fieldName,omitempty"`
	FilterType              string   `json:"filterType,omitempty"`
	FilterName              string   `json:"filterName,omitempty"`
	FilteredTrackingElement string   `json:"filteredTrackingElement,omitempty"`
	FilterArgs              []string `json:"filterArgs,omitempty"`
}

// ActionLog is a message recorded against an action, optionally narrowed to
// a report and a 1-based item index.
type ActionLog struct {
	ID         int64                         `gorm:"primaryKey;autoIncrement"`
	ActionID   int64                         `gorm:"not null;index"`
	ReportID   *uuid.UUID                    `gorm:"type:uuid"`
	Index      *int                          `gorm:"column:item_index"`
	TrackingID *string                       `gorm:"type:text"`
	Type       LogLevel                      `gorm:"type:text;not null"`
	Scope      LogScope                      `gorm:"type:text;not null"`
	Detail     datatypes.JSONType[LogDetail] `gorm:"type:jsonb"`
	CreatedAt  time.Time                     `gorm:"not null"`
}

func (ActionLog) TableName() string { return "action_log" }

// Fatal reports whether the log must abort ingestion. Item-level duplicate
// errors are recorded as errors but do not stop the submission.
func (l ActionLog) Fatal() bool {
	if l.Type != LogLevelError {
		return false
	}
	return l.Detail.Data().Kind != KindDuplicateItem
}

func (l ActionLog) Message() string {
	return l.Detail.Data().Message
}
