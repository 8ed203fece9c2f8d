// Package domain contains the append-only lineage records: actions, the
// reports they produce, the edges between reports and the logs they emit.
package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// TaskAction names a pipeline step.
type TaskAction string

const (
	TaskActionReceive  TaskAction = "receive"
	TaskActionProcess  TaskAction = "process"
	TaskActionRoute    TaskAction = "route"
	TaskActionBatch    TaskAction = "batch"
	TaskActionSend     TaskAction = "send"
	TaskActionDownload TaskAction = "download"
	TaskActionNone     TaskAction = "none"
)

// Action is one execution of a pipeline step.
type Action struct {
	ID               int64      `gorm:"primaryKey;autoIncrement:false"`
	ActionName       TaskAction `gorm:"type:text;not null"`
	ActionParams     string     `gorm:"type:text"`
	ActionResult     string     `gorm:"type:text"`
	HTTPStatus       int        `gorm:"not null;default:0"`
	SendingOrg       *string    `gorm:"type:text;index"`
	SendingOrgClient *string    `gorm:"type:text"`
	ExternalName     *string    `gorm:"type:text"`
	PayloadName      *string    `gorm:"type:text"`
	ContentLength    int64      `gorm:"not null;default:0"`
	SenderIP         *string    `gorm:"type:text"`
	CreatedAt        time.Time  `gorm:"not null;index"`
}

func (Action) TableName() string { return "action" }

// Report is a body of items produced by an action.
type Report struct {
	ReportID                  uuid.UUID  `gorm:"type:uuid;primaryKey"`
	ActionID                  int64      `gorm:"not null;index"`
	NextAction                TaskAction `gorm:"type:text"`
	NextActionAt              *time.Time
	SendingOrg                *string `gorm:"type:text"`
	SendingOrgClient          *string `gorm:"type:text"`
	ReceivingOrg              *string `gorm:"type:text"`
	ReceivingOrgSvc           *string `gorm:"type:text"`
	SchemaName                string  `gorm:"type:text"`
	SchemaTopic               string  `gorm:"type:text"`
	BodyURL                   *string `gorm:"type:text"`
	BodyFormat                string  `gorm:"type:text"`
	BlobDigest                []byte
	ExternalName              *string `gorm:"type:text"`
	ItemCount                 int     `gorm:"not null;default:0"`
	ItemCountBeforeQualFilter *int
	CreatedAt                 time.Time `gorm:"not null"`
}

func (Report) TableName() string { return "report_file" }

// ReportLineage is a directed parent to child edge recorded by an action.
type ReportLineage struct {
	ID             int64     `gorm:"primaryKey;autoIncrement"`
	ActionID       int64     `gorm:"not null;index"`
	ParentReportID uuid.UUID `gorm:"type:uuid;not null;index"`
	ChildReportID  uuid.UUID `gorm:"type:uuid;not null;index"`
	CreatedAt      time.Time `gorm:"not null"`
}

func (ReportLineage) TableName() string { return "report_lineage" }

// ItemLineage keeps the per-row fingerprint of accepted items.
type ItemLineage struct {
	ID         int64     `gorm:"primaryKey;autoIncrement"`
	ReportID   uuid.UUID `gorm:"type:uuid;not null;index"`
	ItemIndex  int       `gorm:"not null"`
	TrackingID *string   `gorm:"type:text"`
	ItemHash   string    `gorm:"type:text;not null;index"`
	CreatedAt  time.Time `gorm:"not null"`
}

func (ItemLineage) TableName() string { return "item_lineage" }

// ProcessEvent is the instruction carried by a queued task.
type ProcessEvent struct {
	EventAction TaskAction        `json:"eventAction"`
	ReportID    uuid.UUID         `json:"reportId"`
	Options     string            `json:"options"`
	Defaults    map[string]string `json:"defaults,omitempty"`
	RouteTo     []string          `json:"routeTo,omitempty"`
	At          *time.Time        `json:"at,omitempty"`
}

// Task is a unit of pending work for a downstream stage.
type Task struct {
	ReportID     uuid.UUID  `gorm:"type:uuid;primaryKey"`
	NextAction   TaskAction `gorm:"type:text;not null"`
	NextActionAt *time.Time
	BodyFormat   string                           `gorm:"type:text"`
	BodyURL      *string                          `gorm:"type:text"`
	ReceiverName *string                          `gorm:"type:text"`
	SchemaName   string                           `gorm:"type:text"`
	ProcessEvent datatypes.JSONType[ProcessEvent] `gorm:"type:jsonb"`
	CreatedAt    time.Time                        `gorm:"not null"`
}

func (Task) TableName() string { return "task" }
