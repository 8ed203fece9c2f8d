package service

import (
	"fmt"

	"github.com/smallbiznis/primerouter/internal/dedup"
	ingestdomain "github.com/smallbiznis/primerouter/internal/ingest/domain"
	"github.com/smallbiznis/primerouter/internal/ingest/parser"
	lineagedomain "github.com/smallbiznis/primerouter/internal/lineage/domain"
	"github.com/smallbiznis/primerouter/internal/settings"
)

// parseELR only counts messages; structured validation belongs to the
// process stage.
func (s *Service) parseELR(req ingestdomain.Request, actionLog *lineagedomain.ActionLogger) *submission {
	format := settings.FormatHL7
	if req.Sender.Format == settings.FormatHL7Batch {
		format = settings.FormatHL7Batch
	}
	sub := &submission{kind: ingestdomain.KindELR, req: req, bodyFormat: format}

	messages, err := parser.SplitHL7(string(req.Content))
	if err != nil {
		actionLog.Error(lineagedomain.LogDetail{
			Kind:    lineagedomain.KindInvalidContent,
			Message: fmt.Sprintf("Unable to read HL7 content: %s", err),
		})
		return sub
	}

	for _, msg := range messages {
		sub.rows = append(sub.rows, dedup.Row{
			Index:      msg.Index,
			TrackingID: msg.ControlID,
			Fields:     map[string]string{"message": msg.Body},
		})
	}
	sub.itemCount = len(messages)
	sub.internalBody = req.Content
	return sub
}
