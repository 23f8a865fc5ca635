// Package schema validates persisted records against embedded JSON schemas.
package schema

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
)

var (
	//go:embed session.schema.json
	sessionSchema string
	//go:embed metrics.schema.json
	metricsSchema string
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("schema validation failed")

// Validator checks documents against a compiled schema.
type Validator struct {
	name   string
	schema *gojsonschema.Schema
}

// NewSessionValidator returns a validator for session records.
func NewSessionValidator() *Validator {
	return mustCompile("session", sessionSchema)
}

// NewMetricsValidator returns a validator for metric record files.
func NewMetricsValidator() *Validator {
	return mustCompile("metrics", metricsSchema)
}

func mustCompile(name, src string) *Validator {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(fmt.Sprintf("compile embedded %s schema: %v", name, err))
	}
	return &Validator{name: name, schema: s}
}

// Validate marshals v and checks it against the schema.
func (v *Validator) Validate(doc any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", v.name, err)
	}
	return v.ValidateJSON(data)
}

// ValidateJSON checks raw JSON against the schema.
func (v *Validator) ValidateJSON(data []byte) error {
	result, err := v.schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("validate %s: %w", v.name, err)
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	log.Debug().
		Str("schema", v.name).
		Strs("errors", msgs).
		Msg("Schema validation failed")
	return fmt.Errorf("%w: %s: %s", ErrInvalid, v.name, strings.Join(msgs, "; "))
}
