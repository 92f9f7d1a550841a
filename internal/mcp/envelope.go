package mcp

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ErrorType is the machine-readable failure class of a tool call.
type ErrorType string

const (
	ErrMissingEnv          ErrorType = "missing_env"
	ErrFileNotFound        ErrorType = "file_not_found"
	ErrInvalidInput        ErrorType = "invalid_input"
	ErrPermissionDenied    ErrorType = "permission_denied"
	ErrFileTooLarge        ErrorType = "file_too_large"
	ErrMPAPI               ErrorType = "mp_api_error"
	ErrUpstreamTimeout     ErrorType = "upstream_timeout"
	ErrUpstreamRateLimited ErrorType = "upstream_rate_limited"
	ErrRuntime             ErrorType = "runtime_error"
)

// Provenance sources.
const (
	SourceLocal    = "local"
	SourceComputed = "computed"
	SourceMP       = "mp"
	SourceOpenAI   = "openai"
)

// Envelope is the uniform result of every tool.
type Envelope struct {
	OK         bool       `json:"ok"`
	Data       any        `json:"data"`
	Error      *ToolError `json:"error"`
	Meta       Meta       `json:"meta"`
	Provenance Provenance `json:"provenance"`
}

// ToolError describes a failed call.
type ToolError struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Details any       `json:"details"`
}

// Meta identifies the tool that produced an envelope.
type Meta struct {
	Tool     string   `json:"tool"`
	Version  string   `json:"version"`
	Warnings []string `json:"warnings"`
}

// Provenance records where data came from: {source, ids} or
// {source, outputs}. Error envelopes carry an empty provenance.
type Provenance map[string]any

// FromIDs is provenance listing the material ids a result is about.
func FromIDs(source string, ids []string) Provenance {
	if ids == nil {
		ids = []string{}
	}
	return Provenance{"source": source, "ids": ids}
}

// FromOutputs is provenance listing files a call produced.
func FromOutputs(source string, outputs []string) Provenance {
	if outputs == nil {
		outputs = []string{}
	}
	return Provenance{"source": source, "outputs": outputs}
}

func newMeta(tool, version string, warnings ...string) Meta {
	if warnings == nil {
		warnings = []string{}
	}
	return Meta{Tool: tool, Version: version, Warnings: warnings}
}

// OK builds a success envelope.
func OK(data any, meta Meta, prov Provenance) Envelope {
	if prov == nil {
		prov = Provenance{}
	}
	return Envelope{OK: true, Data: data, Meta: meta, Provenance: prov}
}

// Err builds a failure envelope.
func Err(typ ErrorType, message string, details any, meta Meta) Envelope {
	return Envelope{
		OK:         false,
		Error:      &ToolError{Type: typ, Message: message, Details: details},
		Meta:       meta,
		Provenance: Provenance{},
	}
}

//go:embed envelope.schema.json
var envelopeSchemaJSON []byte

var envelopeSchema = func() *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(envelopeSchemaJSON))
	if err != nil {
		panic(fmt.Sprintf("envelope schema: %v", err))
	}
	return s
}()

// ValidateEnvelope checks env against the envelope schema and returns its
// JSON encoding. In strict mode an invalid envelope is an error; otherwise it
// is replaced by a runtime_error envelope that keeps the original meta.
func ValidateEnvelope(env Envelope, strict bool) ([]byte, error) {
	raw, err := json.Marshal(env)
	if err == nil {
		err = validateJSON(raw)
	}
	if err == nil {
		return raw, nil
	}
	if strict {
		return nil, err
	}

	fallback := Err(ErrRuntime, "Envelope validation failed.", err.Error(), env.Meta)
	if fallback.Meta.Warnings == nil {
		fallback.Meta.Warnings = []string{}
	}
	return json.Marshal(fallback)
}

func validateJSON(raw []byte) error {
	res, err := envelopeSchema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("envelope is not valid JSON: %w", err)
	}
	if res.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("invalid envelope: %s", strings.Join(msgs, "; "))
}
