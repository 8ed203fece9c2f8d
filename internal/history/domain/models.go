// Package domain holds the read-time projection of a submission's delivery
// history. Nothing here is persisted.
package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var ErrInvariantViolation = errors.New("invariant_violation")

type Status int

const (
	StatusError Status = iota
	StatusReceived
	StatusNotDelivering
	StatusWaitingToDeliver
	StatusPartiallyDelivered
	StatusDelivered
)

var statusNames = map[Status]string{
	StatusError:              "Error",
	StatusReceived:           "Received",
	StatusNotDelivering:      "Not Delivering",
	StatusWaitingToDeliver:   "Waiting to Deliver",
	StatusPartiallyDelivered: "Partially Delivered",
	StatusDelivered:          "Delivered",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for status, printable := range statusNames {
		if printable == name {
			*s = status
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", name)
}

// Report is a report as it appears in the history of a destination.
type Report struct {
	ReportID                  uuid.UUID  `json:"reportId"`
	ReceivingOrg              *string    `json:"receivingOrg,omitempty"`
	ReceivingOrgSvc           *string    `json:"receivingOrgSvc,omitempty"`
	ExternalName              *string    `json:"externalName,omitempty"`
	ItemCount                 int        `json:"itemCount"`
	ItemCountBeforeQualFilter *int       `json:"itemCountBeforeQualityFiltering,omitempty"`
	NextActionAt              *time.Time `json:"nextActionAt,omitempty"`
	CreatedAt                 time.Time  `json:"createdAt"`
}

// FilterResult describes rows a quality filter removed before delivery.
type FilterResult struct {
	FilterType              string   `json:"filterType"`
	FilterName              string   `json:"filterName"`
	FilteredTrackingElement string   `json:"filteredTrackingElement"`
	FilterArgs              []string `json:"filterArgs"`
	Message                 string   `json:"message"`
}

// Destination is one receiving organization and service within a
// submission. Destinations are unique by (OrganizationID, Service).
type Destination struct {
	Organization              string         `json:"organization,omitempty"`
	OrganizationID            string         `json:"organization_id"`
	Service                   string         `json:"service"`
	ItemCount                 int            `json:"itemCount"`
	ItemCountBeforeQualFilter *int           `json:"itemCountBeforeQualityFiltering"`
	SendingAt                 *time.Time     `json:"sending_at,omitempty"`
	FilteredReportRows        []string       `json:"filteredReportRows"`
	FilteredReportItems       []FilterResult `json:"filteredReportItems"`
	SentReports               []Report       `json:"sentReports"`
	DownloadedReports         []Report       `json:"downloadedReports"`
}

// Real reports whether the destination was actually targeted for delivery.
func (d Destination) Real() bool {
	return d.ItemCount != 0
}

func (d Destination) SentItemCount() int {
	total := 0
	for _, r := range d.SentReports {
		total += r.ItemCount
	}
	return total
}

func (d Destination) DownloadedItemCount() int {
	total := 0
	for _, r := range d.DownloadedReports {
		total += r.ItemCount
	}
	return total
}

func (d Destination) Finished() bool {
	return d.SentItemCount() >= d.ItemCount || d.DownloadedItemCount() >= d.ItemCount
}

// Log is an action log surfaced to the submitter.
type Log struct {
	Scope      string     `json:"scope"`
	ReportID   *uuid.UUID `json:"reportId,omitempty"`
	Index      *int       `json:"index,omitempty"`
	TrackingID *string    `json:"trackingId,omitempty"`
	Field      string     `json:"field,omitempty"`
	Kind       string     `json:"errorCode,omitempty"`
	Message    string     `json:"message"`
}

// Submission is the detailed history of one receive action.
type Submission struct {
	ID                  *string       `json:"id"`
	SubmissionID        int64         `json:"submissionId"`
	OverallStatus       Status        `json:"overallStatus"`
	Timestamp           time.Time     `json:"timestamp"`
	PlannedCompletionAt *time.Time    `json:"plannedCompletionAt,omitempty"`
	ActualCompletionAt  *time.Time    `json:"actualCompletionAt,omitempty"`
	Sender              string        `json:"sender"`
	ReportItemCount     *int          `json:"reportItemCount"`
	ErrorCount          int           `json:"errorCount"`
	WarningCount        int           `json:"warningCount"`
	HTTPStatus          int           `json:"httpStatus"`
	Destinations        []Destination `json:"destinations"`
	DestinationCount    int           `json:"destinationCount"`
	Errors              []Log         `json:"errors"`
	Warnings            []Log         `json:"warnings"`
	Topic               string        `json:"topic,omitempty"`
	ExternalName        *string       `json:"externalName,omitempty"`

	// SendingOrg is the organization that owns the submission.
	SendingOrg string `json:"-"`
}

// OrganizationLookup resolves the display name of a receiving organization.
type OrganizationLookup interface {
	DisplayName(organizationID, service string) string
}
