package domain

import (
	"github.com/google/uuid"
	"github.com/smallbiznis/primerouter/internal/settings"
)

// Kind selects the stage bodies run for a submission.
type Kind int

const (
	KindCovid Kind = iota
	KindELR
)

func (k Kind) String() string {
	switch k {
	case KindELR:
		return "elr"
	default:
		return "covid"
	}
}

// KindForSender routes universal pipeline topics to the ELR variant.
func KindForSender(sender settings.Sender) Kind {
	if sender.Topic.IsUniversalPipeline() {
		return KindELR
	}
	return KindCovid
}

// Option alters how a received report moves on.
type Option string

const (
	OptionNone             Option = "None"
	OptionValidatePayload  Option = "ValidatePayload"
	OptionCheckConnections Option = "CheckConnections"
	OptionSkipSend         Option = "SkipSend"
	OptionSendImmediately  Option = "SendImmediately"
)

func (o Option) Valid() bool {
	switch o {
	case "", OptionNone, OptionValidatePayload, OptionCheckConnections, OptionSkipSend, OptionSendImmediately:
		return true
	}
	return false
}

type Request struct {
	Sender          settings.Sender
	Content         []byte
	Defaults        map[string]string
	Options         Option
	RouteTo         []string
	IsAsync         bool
	AllowDuplicates bool
	PayloadName     string
	SenderIP        string
}

type Result struct {
	ActionID  int64
	ReportID  uuid.UUID
	ItemCount int
	BlobURL   string
	Warnings  []string
}

// RawSubmission is the message handed to the ELR processing queue.
type RawSubmission struct {
	BlobURL string `json:"blobURL"`
	Digest  string `json:"digest"`
	Sender  string `json:"sender"`
}
