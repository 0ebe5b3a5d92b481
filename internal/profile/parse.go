package profile

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/xeipuuv/gojsonschema"
)

//go:embed schema.json
var schemaJSON string

var (
	schemaOnce sync.Once
	schema     *gojsonschema.Schema
	schemaErr  error

	validate = validator.New()
)

// ValidationError lists every field that failed the profile checks.
type ValidationError struct {
	Errors []FieldError
}

// FieldError is a single failed check at a field path.
type FieldError struct {
	Field   string
	Message string
}

func (ve *ValidationError) Error() string {
	var sb strings.Builder
	sb.WriteString("profile validation failed:")
	for i, err := range ve.Errors {
		sb.WriteString(fmt.Sprintf(" %d. %s: %s;", i+1, err.Field, err.Message))
	}
	return strings.TrimSuffix(sb.String(), ";")
}

func compiledSchema() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaJSON))
	})
	return schema, schemaErr
}

// Parse validates raw JSON against the profile schema and decodes it.
// A value present with the wrong type is rejected rather than coerced.
func Parse(raw []byte) (*Profile, error) {
	s, err := compiledSchema()
	if err != nil {
		return nil, fmt.Errorf("load profile schema: %w", err)
	}

	if !json.Valid(raw) {
		return nil, errors.New("profile is not valid JSON")
	}

	result, err := s.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("validate profile: %w", err)
	}

	if !result.Valid() {
		verr := &ValidationError{}
		for _, re := range result.Errors() {
			verr.Errors = append(verr.Errors, FieldError{
				Field:   re.Field(),
				Message: re.Description(),
			})
		}
		return nil, verr
	}

	var p Profile
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}

	if err := validate.Struct(&p); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			verr := &ValidationError{}
			for _, fe := range fieldErrs {
				verr.Errors = append(verr.Errors, FieldError{
					Field:   fe.Namespace(),
					Message: fmt.Sprintf("failed on %q", fe.Tag()),
				})
			}
			return nil, verr
		}
		return nil, fmt.Errorf("validate profile: %w", err)
	}

	p.normalize()

	return &p, nil
}
