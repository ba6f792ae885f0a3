package events

import (
	"errors"
	"strings"
)

// IngestResult is the stable response shape of the ingest path.
type IngestResult struct {
	OK           bool   `json:"ok"`
	Status       string `json:"status,omitempty"`
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	ErrorPath    string `json:"error_path,omitempty"`
}

// Service gates event payloads on schema validity before acceptance.
type Service struct {
	validator *Validator
}

func NewService(validator *Validator) *Service {
	return &Service{validator: validator}
}

// Ingest validates one payload. Rejections carry the error code, the first
// violation's message, and its dotted path ("<root>" for document-level
// violations).
func (s *Service) Ingest(payload map[string]any) IngestResult {
	err := s.validator.Validate(payload)
	if err == nil {
		return IngestResult{OK: true, Status: "accepted"}
	}

	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		return IngestResult{
			OK:           false,
			ErrorCode:    CodeInvalid,
			ErrorMessage: err.Error(),
			ErrorPath:    "<root>",
		}
	}

	path := strings.Join(vErr.Path, ".")
	if path == "" {
		path = "<root>"
	}

	return IngestResult{
		OK:           false,
		ErrorCode:    vErr.Code,
		ErrorMessage: path + ": " + vErr.Message,
		ErrorPath:    path,
	}
}
