package api

import (
	"errors"
	"fmt"
	"strings"

	"approval-gate/backend/internal/services"

	"github.com/xeipuuv/gojsonschema"
)

var createWorkflowSchema = fmt.Sprintf(`{
  "type": "object",
  "required": ["action", "requested_by", "timeout_minutes"],
  "properties": {
    "action":          {"type": "string"},
    "requested_by":    {"type": "string"},
    "context":         {"type": ["object", "null"]},
    "timeout_minutes": {"type": "integer", "maximum": %d}
  }
}`, services.MaxTimeoutMinutes)

const reviewSchema = `{
  "type": "object",
  "required": ["reviewed_by"],
  "properties": {
    "reviewed_by": {"type": "string"}
  }
}`

// Loaded once; the documents never change.
var (
	createWorkflowLoader = gojsonschema.NewStringLoader(createWorkflowSchema)
	reviewLoader         = gojsonschema.NewStringLoader(reviewSchema)
)

func validateCreateWorkflow(body []byte) error {
	return validateJSON(createWorkflowLoader, body)
}

func validateReview(body []byte) error {
	return validateJSON(reviewLoader, body)
}

// validateJSON checks body against schema and reports at most five
// violations. Malformed JSON is reported as a validation error too.
func validateJSON(schema gojsonschema.JSONLoader, body []byte) error {
	if len(strings.TrimSpace(string(body))) == 0 {
		return errors.New("request body is required")
	}

	res, err := gojsonschema.Validate(schema, gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if res.Valid() {
		return nil
	}

	var msgs []string
	for i, e := range res.Errors() {
		if i >= 5 {
			break
		}
		msgs = append(msgs, e.String())
	}
	return errors.New(strings.Join(msgs, "; "))
}
