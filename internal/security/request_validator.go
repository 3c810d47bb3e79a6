package security

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// DefaultMaxBodyBytes bounds request bodies when no limit is given.
const DefaultMaxBodyBytes int64 = 64 << 10

// JSONSchemaValidator rejects request bodies that are not JSON or do not
// match a compiled schema.
type JSONSchemaValidator struct {
	schema   *jsonschema.Schema
	maxBytes int64
}

// FieldError locates one schema violation in the request body.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func NewJSONSchemaValidator(name, schemaJSON string, maxBytes int64) (*JSONSchemaValidator, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBodyBytes
	}
	url := name + ".json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, strings.NewReader(schemaJSON)); err != nil {
		return nil, err
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return nil, err
	}
	return &JSONSchemaValidator{schema: schema, maxBytes: maxBytes}, nil
}

// MustJSONSchemaValidator is NewJSONSchemaValidator for schemas compiled
// into the binary.
func MustJSONSchemaValidator(name, schemaJSON string) *JSONSchemaValidator {
	v, err := NewJSONSchemaValidator(name, schemaJSON, 0)
	if err != nil {
		panic("compile schema " + name + ": " + err.Error())
	}
	return v
}

// Validate checks an already decoded document.
func (v *JSONSchemaValidator) Validate(doc any) []FieldError {
	err := v.schema.Validate(doc)
	if err == nil {
		return nil
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return []FieldError{{Field: "/", Message: err.Error()}}
	}
	return leafErrors(ve, nil)
}

func leafErrors(ve *jsonschema.ValidationError, out []FieldError) []FieldError {
	if len(ve.Causes) == 0 {
		field := ve.InstanceLocation
		if field == "" {
			field = "/"
		}
		return append(out, FieldError{Field: field, Message: ve.Message})
	}
	for _, c := range ve.Causes {
		out = leafErrors(c, out)
	}
	return out
}

func (v *JSONSchemaValidator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body == nil {
			WriteJSONError(w, r, http.StatusBadRequest, "invalid_request")
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, v.maxBytes))
		if err != nil {
			var mbe *http.MaxBytesError
			if errors.As(err, &mbe) {
				WriteJSONError(w, r, http.StatusRequestEntityTooLarge, "payload_too_large")
				return
			}
			WriteJSONError(w, r, http.StatusBadRequest, "invalid_request")
			return
		}
		_ = r.Body.Close()

		var doc any
		dec := json.NewDecoder(bytes.NewReader(body))
		dec.UseNumber()
		if err := dec.Decode(&doc); err != nil {
			WriteJSONError(w, r, http.StatusBadRequest, "invalid_json")
			return
		}

		if problems := v.Validate(doc); len(problems) > 0 {
			WriteJSONErrorDetail(w, r, http.StatusBadRequest, "validation_error", problems)
			return
		}

		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r)
	})
}
