package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/primerouter/internal/authorization"
	ingestdomain "github.com/smallbiznis/primerouter/internal/ingest/domain"
	lineagedomain "github.com/smallbiznis/primerouter/internal/lineage/domain"
	"github.com/smallbiznis/primerouter/internal/ratelimit"
	submissiondomain "github.com/smallbiznis/primerouter/internal/submission/domain"
	"gorm.io/gorm"
)

var (
	ErrUnauthorized    = errors.New("unauthorized")
	ErrNotFound        = errors.New("not_found")
	ErrInvalidRequest  = errors.New("invalid_request")
	ErrTooManyRequests = errors.New("too_many_requests")
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationErrors is returned by handlers that reject request input.
type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

// errorClass maps a set of sentinels to one HTTP response.
type errorClass struct {
	status    int
	errType   string
	message   string
	sentinels []error
}

// validationSentinels surface as a 400 whose code is the sentinel text.
var validationSentinels = []error{
	ErrInvalidRequest,
	ingestdomain.ErrInvalidSender,
	ingestdomain.ErrInvalidOptions,
	submissiondomain.ErrInvalidOrganization,
	submissiondomain.ErrInvalidPageSize,
	submissiondomain.ErrInvalidSortColumn,
	submissiondomain.ErrInvalidCursor,
}

var errorClasses = []errorClass{
	{http.StatusUnauthorized, "unauthorized", "unauthorized", []error{ErrUnauthorized}},
	{http.StatusForbidden, "forbidden", "forbidden", []error{submissiondomain.ErrForbidden, authorization.ErrForbidden}},
	{http.StatusNotFound, "not_found", "not found", []error{ErrNotFound, submissiondomain.ErrNotFound, lineagedomain.ErrNotFound, gorm.ErrRecordNotFound}},
	{http.StatusTooManyRequests, "too_many_requests", "too many requests", []error{ErrTooManyRequests, ratelimit.ErrSenderBusy}},
}

var internalError = errorPayload{Type: "internal_error", Message: "internal server error"}

// ErrorHandlingMiddleware renders the last handler error unless the handler
// already wrote a response.
func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		last := c.Errors.Last()
		if last == nil || c.Writer.Written() {
			return
		}
		status, payload := mapError(last.Err)
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{Errors: []ValidationError{{Field: field, Code: code, Message: message}}}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, internalError
	}
	if details := validationDetails(err); details != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  details,
		}
	}
	for _, class := range errorClasses {
		for _, sentinel := range class.sentinels {
			if errors.Is(err, sentinel) {
				return class.status, errorPayload{Type: class.errType, Message: class.message}
			}
		}
	}
	return http.StatusInternalServerError, internalError
}

// validationDetails returns nil when err is not a client input error.
func validationDetails(err error) []ValidationError {
	var fields *ValidationErrors
	if errors.As(err, &fields) && fields != nil {
		return fields.Errors
	}

	var rejected *ingestdomain.ValidationError
	if errors.As(err, &rejected) && rejected != nil {
		details := make([]ValidationError, 0, len(rejected.Errors))
		for _, message := range rejected.Errors {
			details = append(details, ValidationError{Field: "report", Code: "invalid_report", Message: message})
		}
		return details
	}

	for _, sentinel := range validationSentinels {
		if errors.Is(err, sentinel) {
			code := sentinel.Error()
			message := "invalid value"
			if sentinel == ErrInvalidRequest {
				message = "invalid request"
			}
			return []ValidationError{{Field: strings.TrimPrefix(code, "invalid_"), Code: code, Message: message}}
		}
	}
	return nil
}

// classifyErrorForLog returns the error type and code written to the request
// log.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	if len(payload.Errors) > 0 {
		return payload.Type, payload.Errors[0].Code
	}
	return payload.Type, payload.Type
}
