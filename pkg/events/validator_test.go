package events

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validEvent() map[string]any {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	return map[string]any{
		"event_id":    uuid.NewString(),
		"tenant_id":   "tenant_x",
		"asset_id":    uuid.NewString(),
		"event_type":  "TASK_SUCCESS",
		"occurred_at": now,
		"recorded_at": now,
		"version":     1,
	}
}

func newTestValidator(t *testing.T) *Validator {
	t.Helper()

	v, err := NewValidator()
	require.NoError(t, err)
	return v
}

func TestValidatorAcceptsValidPayload(t *testing.T) {
	v := newTestValidator(t)

	assert.NoError(t, v.Validate(validEvent()))

	withOptional := validEvent()
	withOptional["severity"] = "ERROR"
	withOptional["error_code"] = "EXECUTION_FAILED"
	assert.NoError(t, v.Validate(withOptional))
}

func TestValidatorRejectsMissingRequiredField(t *testing.T) {
	v := newTestValidator(t)

	event := validEvent()
	delete(event, "event_id")

	err := v.Validate(event)
	require.Error(t, err)

	vErr, ok := err.(*ValidationError)
	require.True(t, ok)
	assert.Equal(t, CodeRequired, vErr.Code)
	assert.Contains(t, vErr.Message, "event_id")
	assert.Equal(t, []string{"event_id"}, vErr.Path)
}

func TestValidatorRejectsAdditionalProperty(t *testing.T) {
	v := newTestValidator(t)

	event := validEvent()
	event["unexpected"] = "nope"

	err := v.Validate(event)
	require.Error(t, err)

	vErr, ok := err.(*ValidationError)
	require.True(t, ok)
	assert.Equal(t, CodeAdditionalProperty, vErr.Code)
	assert.Contains(t, vErr.Message, "unexpected")
}

func TestValidatorRejectsBadTimestamp(t *testing.T) {
	v := newTestValidator(t)

	event := validEvent()
	event["occurred_at"] = "not-a-datetime"

	err := v.Validate(event)
	require.Error(t, err)

	vErr, ok := err.(*ValidationError)
	require.True(t, ok)
	assert.Equal(t, CodeFormat, vErr.Code)
	assert.Equal(t, []string{"occurred_at"}, vErr.Path)
}

func TestValidatorRejectsWrongType(t *testing.T) {
	v := newTestValidator(t)

	event := validEvent()
	event["version"] = "one"

	err := v.Validate(event)
	require.Error(t, err)

	vErr, ok := err.(*ValidationError)
	require.True(t, ok)
	assert.Equal(t, CodeType, vErr.Code)
}

func TestValidatorRejectsOutOfRangeVersion(t *testing.T) {
	v := newTestValidator(t)

	event := validEvent()
	event["version"] = 0

	err := v.Validate(event)
	require.Error(t, err)

	vErr, ok := err.(*ValidationError)
	require.True(t, ok)
	assert.Equal(t, CodeRange, vErr.Code)
}

func TestValidatorRejectsBadSeverity(t *testing.T) {
	v := newTestValidator(t)

	event := validEvent()
	event["severity"] = "LOUD"

	err := v.Validate(event)
	require.Error(t, err)

	vErr, ok := err.(*ValidationError)
	require.True(t, ok)
	assert.Equal(t, CodeInvalid, vErr.Code)
}

func TestServiceIngest(t *testing.T) {
	service := NewService(newTestValidator(t))

	t.Run("accepts valid payload", func(t *testing.T) {
		result := service.Ingest(validEvent())
		assert.True(t, result.OK)
		assert.Equal(t, "accepted", result.Status)
		assert.Empty(t, result.ErrorCode)
	})

	t.Run("surfaces error codes", func(t *testing.T) {
		event := validEvent()
		event["occurred_at"] = "not-a-datetime"

		result := service.Ingest(event)
		assert.False(t, result.OK)
		assert.Equal(t, CodeFormat, result.ErrorCode)
		assert.Equal(t, "occurred_at", result.ErrorPath)
		assert.Contains(t, result.ErrorMessage, "occurred_at")
	})

	t.Run("reports missing field path", func(t *testing.T) {
		event := validEvent()
		delete(event, "tenant_id")

		result := service.Ingest(event)
		assert.False(t, result.OK)
		assert.Equal(t, CodeRequired, result.ErrorCode)
		assert.Equal(t, "tenant_id", result.ErrorPath)
	})
}
