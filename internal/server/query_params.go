package server

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	submissiondomain "github.com/smallbiznis/primerouter/internal/submission/domain"
	"github.com/smallbiznis/primerouter/pkg/db/option"
	"github.com/smallbiznis/primerouter/pkg/db/pagination"
)

const dateOnlyLayout = "2006-01-02"

func parseOptionalBool(value string) (*bool, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	parsed, err := strconv.ParseBool(trimmed)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

func parseOptionalInt(value string) (*int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	parsed, err := strconv.Atoi(trimmed)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

func parseOptionalSnowflakeID(value string) (*snowflake.ID, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	parsed, err := snowflake.ParseString(trimmed)
	if err != nil || parsed <= 0 {
		return nil, errors.New("invalid_snowflake_id")
	}
	return &parsed, nil
}

func parseOptionalTime(value string, endOfDay bool) (*time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	if parsed, err := time.Parse(time.RFC3339, trimmed); err == nil {
		return &parsed, nil
	}
	if parsed, err := time.Parse(dateOnlyLayout, trimmed); err == nil {
		if endOfDay {
			parsed = time.Date(parsed.Year(), parsed.Month(), parsed.Day(), 23, 59, 59, int(time.Second-time.Nanosecond), time.UTC)
		} else {
			parsed = time.Date(parsed.Year(), parsed.Month(), parsed.Day(), 0, 0, 0, 0, time.UTC)
		}
		return &parsed, nil
	}
	return nil, errors.New("invalid_time")
}

// pageCursor is a list boundary. position is set when it came from a
// previous page's token and so names a row already shown.
type pageCursor struct {
	at       time.Time
	position *submissiondomain.Position
}

// parseOptionalCursor accepts a page token or a bare timestamp.
func parseOptionalCursor(value string) (*pageCursor, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	if id, at, err := pagination.DecodeCreatedAt(trimmed); err == nil {
		submissionID, err := parseOptionalSnowflakeID(id)
		if err != nil || submissionID == nil {
			return nil, errors.New("invalid_cursor")
		}
		return &pageCursor{at: at, position: &submissiondomain.Position{Timestamp: at, SubmissionID: submissionID.Int64()}}, nil
	}
	parsed, err := parseOptionalTime(trimmed, false)
	if err != nil {
		return nil, err
	}
	return &pageCursor{at: *parsed}, nil
}

func parseSortDirection(value string) (option.SortDirection, error) {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "", string(option.SortDesc):
		return option.SortDesc, nil
	case string(option.SortAsc):
		return option.SortAsc, nil
	default:
		return "", errors.New("invalid_sort_direction")
	}
}
