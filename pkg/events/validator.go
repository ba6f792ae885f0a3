// Package events validates AssetEvent payloads against the canonical JSON
// Schema before they enter the audit stream. Validation failures surface
// stable error codes so clients and dashboards can classify rejections
// without parsing messages.
package events

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schema/AssetEvent.json
var assetEventSchema []byte

// Stable codes for schema rejections.
const (
	CodeRequired           = "E_SCHEMA_REQUIRED"
	CodeAdditionalProperty = "E_SCHEMA_ADDITIONAL_PROPERTY"
	CodeFormat             = "E_SCHEMA_FORMAT"
	CodeType               = "E_SCHEMA_TYPE"
	CodeRange              = "E_SCHEMA_RANGE"
	CodeInvalid            = "E_SCHEMA_INVALID"
)

// ValidationError carries the first schema violation found in a payload.
type ValidationError struct {
	Code    string
	Message string
	Path    []string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Validator checks payloads against the embedded AssetEvent schema.
type Validator struct {
	schema *gojsonschema.Schema
}

func NewValidator() (*Validator, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(assetEventSchema))
	if err != nil {
		return nil, fmt.Errorf("cannot compile AssetEvent schema: %w", err)
	}

	return &Validator{schema: schema}, nil
}

// Validate returns nil for a conforming payload and a *ValidationError
// describing the first violation otherwise. Violations are ordered by field
// path so the reported error is deterministic.
func (v *Validator) Validate(payload map[string]any) error {
	result, err := v.schema.Validate(gojsonschema.NewGoLoader(payload))
	if err != nil {
		return fmt.Errorf("cannot validate payload: %w", err)
	}
	if result.Valid() {
		return nil
	}

	violations := result.Errors()
	sort.SliceStable(violations, func(i, j int) bool {
		return violations[i].Field() < violations[j].Field()
	})

	first := violations[0]
	path := splitFieldPath(first.Field())
	if first.Type() == "required" {
		if missing, ok := first.Details()["property"].(string); ok {
			path = []string{missing}
		}
	}

	return &ValidationError{
		Code:    mapErrorCode(first.Type()),
		Message: first.Description(),
		Path:    path,
	}
}

func splitFieldPath(field string) []string {
	// gojsonschema reports document-level violations with the field "(root)".
	if field == "" || field == "(root)" {
		return nil
	}

	return strings.Split(field, ".")
}

func mapErrorCode(violation string) string {
	switch violation {
	case "required":
		return CodeRequired
	case "additional_property_not_allowed":
		return CodeAdditionalProperty
	case "format":
		return CodeFormat
	case "invalid_type":
		return CodeType
	case "number_gte", "number_gt", "number_lte", "number_lt":
		return CodeRange
	default:
		return CodeInvalid
	}
}
