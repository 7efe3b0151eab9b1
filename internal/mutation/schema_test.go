package mutation

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const counterSchema = `{
	"type": "object",
	"required": ["counter_id", "delta"],
	"properties": {
		"counter_id": {"type": "string"},
		"delta": {"type": "integer"}
	}
}`

func TestSchemaRegistry_Validate(t *testing.T) {
	reg := NewSchemaRegistry()
	require.NoError(t, reg.Register(KindCounterUpdate, []byte(counterSchema)))
	assert.Equal(t, 1, reg.Len())

	assert.NoError(t, reg.Validate(KindCounterUpdate, []byte(`{"counter_id":"c1","delta":1}`)))
	assert.ErrorIs(t, reg.Validate(KindCounterUpdate, []byte(`{"counter_id":"c1"}`)), ErrInvalidPayload)
	assert.ErrorIs(t, reg.Validate(KindCounterUpdate, []byte(`not json`)), ErrInvalidPayload)

	// Kind lookup is normalized.
	assert.ErrorIs(t, reg.Validate("COUNTER_UPDATE", []byte(`{}`)), ErrInvalidPayload)
}

func TestSchemaRegistry_PassThrough(t *testing.T) {
	reg := NewSchemaRegistry()
	require.NoError(t, reg.Register(KindCounterUpdate, []byte(counterSchema)))

	assert.NoError(t, reg.Validate(KindReminderLog, []byte(`{"anything":true}`)))
	assert.NoError(t, reg.Validate(KindCounterUpdate, nil))

	var nilReg *SchemaRegistry
	assert.NoError(t, nilReg.Validate(KindCounterUpdate, []byte(`{}`)))
}

func TestSchemaRegistry_RegisterErrors(t *testing.T) {
	reg := NewSchemaRegistry()
	assert.Error(t, reg.Register(KindGeneral, []byte(`{`)))
	assert.Error(t, reg.RegisterFile(KindGeneral, filepath.Join(t.TempDir(), "missing.json")))
}

func TestSchemaRegistry_RegisterFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "counter.json")
	require.NoError(t, os.WriteFile(path, []byte(counterSchema), 0644))

	reg := NewSchemaRegistry()
	require.NoError(t, reg.RegisterFile(KindCounterUpdate, path))
	assert.ErrorIs(t, reg.Validate(KindCounterUpdate, []byte(`[]`)), ErrInvalidPayload)
}
