// Package settings holds the organization, sender and receiver configuration
// that drives ingestion and routing.
package settings

import (
	"errors"
	"strings"
)

type Topic string

const (
	TopicFullELR      Topic = "full-elr"
	TopicEtorTI       Topic = "etor-ti"
	TopicCovid19      Topic = "covid-19"
	TopicMonkeypox    Topic = "monkeypox"
	TopicCSVFileTests Topic = "CsvFileTests-topic"
	TopicTest         Topic = "test"
)

// IsUniversalPipeline reports whether reports on this topic go through the
// queue-driven ELR pipeline instead of the legacy covid pipeline.
func (t Topic) IsUniversalPipeline() bool {
	switch t {
	case TopicFullELR, TopicEtorTI:
		return true
	default:
		return false
	}
}

func (t Topic) Valid() bool {
	switch t {
	case TopicFullELR, TopicEtorTI, TopicCovid19, TopicMonkeypox, TopicCSVFileTests, TopicTest:
		return true
	default:
		return false
	}
}

type Format string

const (
	FormatCSV      Format = "CSV"
	FormatHL7      Format = "HL7"
	FormatHL7Batch Format = "HL7_BATCH"
	FormatFHIR     Format = "FHIR"
)

type CustomerStatus string

const (
	CustomerStatusActive   CustomerStatus = "active"
	CustomerStatusTesting  CustomerStatus = "testing"
	CustomerStatusInactive CustomerStatus = "inactive"
)

type Organization struct {
	Name         string     `mapstructure:"name" json:"name"`
	Description  string     `mapstructure:"description" json:"description"`
	Jurisdiction string     `mapstructure:"jurisdiction" json:"jurisdiction"`
	StateCode    string     `mapstructure:"stateCode" json:"stateCode,omitempty"`
	Senders      []Sender   `mapstructure:"senders" json:"senders"`
	Receivers    []Receiver `mapstructure:"receivers" json:"receivers"`
}

type Sender struct {
	Name             string         `mapstructure:"name" json:"name"`
	OrganizationName string         `mapstructure:"organizationName" json:"organizationName"`
	Format           Format         `mapstructure:"format" json:"format"`
	Topic            Topic          `mapstructure:"topic" json:"topic"`
	CustomerStatus   CustomerStatus `mapstructure:"customerStatus" json:"customerStatus"`
	SchemaName       string         `mapstructure:"schemaName" json:"schemaName"`
	AllowDuplicates  bool           `mapstructure:"allowDuplicates" json:"allowDuplicates"`
	RequiredFields   []string       `mapstructure:"requiredFields" json:"requiredFields,omitempty"`
}

// FullName is the "org.client" identifier used on actions and reports.
func (s Sender) FullName() string {
	return s.OrganizationName + "." + s.Name
}

type Receiver struct {
	Name              string         `mapstructure:"name" json:"name"`
	OrganizationName  string         `mapstructure:"organizationName" json:"organizationName"`
	Topic             Topic          `mapstructure:"topic" json:"topic"`
	CustomerStatus    CustomerStatus `mapstructure:"customerStatus" json:"customerStatus"`
	Format            Format         `mapstructure:"format" json:"format"`
	BatchDelayMinutes int            `mapstructure:"batchDelayMinutes" json:"batchDelayMinutes"`
}

func (r Receiver) FullName() string {
	return r.OrganizationName + "." + r.Name
}

func (r Receiver) Active() bool {
	return r.CustomerStatus != CustomerStatusInactive
}

// Provider is the read-only view over the current settings.
type Provider interface {
	Organizations() []Organization
	FindOrganization(name string) (*Organization, bool)
	FindSender(fullName string) (*Sender, bool)
	FindReceiver(fullName string) (*Receiver, bool)
	FindOrganizationAndReceiver(fullName string) (*Organization, *Receiver, bool)
	ReceiversForTopic(topic Topic) []Receiver
}

var (
	ErrEmptyOrganizations    = errors.New("settings.organizations cannot be empty")
	ErrInvalidOrganization   = errors.New("invalid_organization")
	ErrDuplicateOrganization = errors.New("duplicate_organization")
	ErrInvalidSender         = errors.New("invalid_sender")
	ErrInvalidReceiver       = errors.New("invalid_receiver")
)

// SplitFullName splits "org.service" into its parts. A name without a dot
// yields the default service.
func SplitFullName(fullName string) (string, string) {
	fullName = strings.TrimSpace(fullName)
	org, svc, ok := strings.Cut(fullName, ".")
	if !ok {
		return fullName, "default"
	}
	return org, svc
}
