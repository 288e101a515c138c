// Package schemavalidation checks IPC payloads against the published JSON
// schemas in docs/schema.
package schemavalidation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/fs"
	"path"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"imehud/docs"
)

// Schema file names under docs/schema.
const (
	StatusUpdate = "status-update-v1.schema.json"
	Event        = "ipc-event-v1.schema.json"
)

// Validator validates JSON documents against one compiled schema.
type Validator struct {
	name   string
	schema *jsonschema.Schema
}

var (
	compileOnce sync.Once
	compiler    *jsonschema.Compiler
	compileErr  error
	compileMu   sync.Mutex
)

// New compiles the named schema. Schemas may reference each other by
// their $id.
func New(name string) (*Validator, error) {
	c, err := loadCompiler()
	if err != nil {
		return nil, err
	}

	id, err := schemaID(name)
	if err != nil {
		return nil, err
	}

	compileMu.Lock()
	schema, err := c.Compile(id)
	compileMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", name, err)
	}
	return &Validator{name: name, schema: schema}, nil
}

// Name returns the schema file name.
func (v *Validator) Name() string {
	return v.name
}

// Validate checks a decoded JSON value.
func (v *Validator) Validate(instance any) error {
	return v.schema.Validate(instance)
}

// ValidateJSON decodes data and validates it.
func (v *Validator) ValidateJSON(data []byte) error {
	var instance any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&instance); err != nil {
		return fmt.Errorf("decode instance: %w", err)
	}
	return v.Validate(instance)
}

// ValidateValue marshals v and validates the result.
func (v *Validator) ValidateValue(value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal instance: %w", err)
	}
	return v.ValidateJSON(data)
}

func loadCompiler() (*jsonschema.Compiler, error) {
	compileOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft7
		c.AssertFormat = true

		entries, err := fs.ReadDir(docs.Schemas, "schema")
		if err != nil {
			compileErr = fmt.Errorf("list schemas: %w", err)
			return
		}
		for _, e := range entries {
			if !strings.HasSuffix(e.Name(), ".json") {
				continue
			}
			data, err := fs.ReadFile(docs.Schemas, path.Join("schema", e.Name()))
			if err != nil {
				compileErr = fmt.Errorf("read %s: %w", e.Name(), err)
				return
			}
			id, err := idOf(data, e.Name())
			if err != nil {
				compileErr = err
				return
			}
			if err := c.AddResource(id, bytes.NewReader(data)); err != nil {
				compileErr = fmt.Errorf("add schema %s: %w", e.Name(), err)
				return
			}
		}
		compiler = c
	})
	return compiler, compileErr
}

func schemaID(name string) (string, error) {
	data, err := fs.ReadFile(docs.Schemas, path.Join("schema", name))
	if err != nil {
		return "", fmt.Errorf("unknown schema %s: %w", name, err)
	}
	return idOf(data, name)
}

// idOf returns the schema's $id, falling back to its file name.
func idOf(data []byte, name string) (string, error) {
	var header struct {
		ID string `json:"$id"`
	}
	if err := json.Unmarshal(data, &header); err != nil {
		return "", fmt.Errorf("parse %s: %w", name, err)
	}
	if header.ID == "" {
		return name, nil
	}
	return header.ID, nil
}
