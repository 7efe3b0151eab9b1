package mutation

import (
	"bytes"
	"fmt"
	"os"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// SchemaRegistry holds compiled JSON Schemas keyed by kind. Bodies of a kind
// with a registered schema are checked before they become durable, so a
// payload the server can never accept is rejected at the call site instead
// of burning through its retry budget.
//
// A nil *SchemaRegistry accepts everything.
type SchemaRegistry struct {
	mu      sync.RWMutex
	schemas map[Kind]*jsonschema.Schema
}

// NewSchemaRegistry returns an empty registry.
func NewSchemaRegistry() *SchemaRegistry {
	return &SchemaRegistry{schemas: make(map[Kind]*jsonschema.Schema)}
}

// Register compiles schemaJSON and binds it to kind, replacing any previous schema.
func (r *SchemaRegistry) Register(kind Kind, schemaJSON []byte) error {
	kind = NormalizeKind(string(kind))

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
	if err != nil {
		return fmt.Errorf("parse schema for kind %q: %w", kind, err)
	}

	url := fmt.Sprintf("mem://habitsync/kinds/%s.json", kind)
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return fmt.Errorf("add schema for kind %q: %w", kind, err)
	}
	sch, err := c.Compile(url)
	if err != nil {
		return fmt.Errorf("compile schema for kind %q: %w", kind, err)
	}

	r.mu.Lock()
	r.schemas[kind] = sch
	r.mu.Unlock()
	return nil
}

// RegisterFile reads a schema file and registers it for kind.
func (r *SchemaRegistry) RegisterFile(kind Kind, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read schema for kind %q: %w", kind, err)
	}
	return r.Register(kind, data)
}

// Validate checks body against the schema registered for kind.
// Kinds without a schema and absent bodies always pass.
func (r *SchemaRegistry) Validate(kind Kind, body []byte) error {
	if r == nil || body == nil {
		return nil
	}

	r.mu.RLock()
	sch, ok := r.schemas[NormalizeKind(string(kind))]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: body is not JSON: %v", ErrInvalidPayload, err)
	}
	if err := sch.Validate(inst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

// Len returns the number of registered schemas.
func (r *SchemaRegistry) Len() int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.schemas)
}
