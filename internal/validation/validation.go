package validation

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

type Kind string

const (
	Job                 Kind = "job"
	Application         Kind = "application"
	StatusChange        Kind = "status_change"
	ExternalApplication Kind = "external_application"
	ChatMessage         Kind = "chat_message"
	Profile             Kind = "profile"
	ResumeUpload        Kind = "resume_upload"
	ApplicationResume   Kind = "application_resume"
)

// MaxBodyBytes bounds every request body decoded through a Validator.
const MaxBodyBytes = 1 << 20

// Error lists every schema violation in a request body.
type Error struct {
	Problems []string
}

func (e *Error) Error() string {
	return "invalid payload: " + strings.Join(e.Problems, "; ")
}

type Validator struct {
	schemas map[Kind]*jsonschema.Schema
}

// New compiles the embedded schemas.
func New() (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true
	compiler.LoadURL = func(u string) (io.ReadCloser, error) {
		return nil, fmt.Errorf("remote schema references are not allowed: %s", u)
	}

	kinds := []Kind{Job, Application, StatusChange, ExternalApplication, ChatMessage, Profile, ResumeUpload, ApplicationResume}
	v := &Validator{schemas: make(map[Kind]*jsonschema.Schema, len(kinds))}
	for _, k := range kinds {
		name := string(k) + ".json"
		raw, err := schemaFS.ReadFile("schemas/" + name)
		if err != nil {
			return nil, err
		}
		if err := compiler.AddResource(name, bytes.NewReader(raw)); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", name, err)
		}
		s, err := compiler.Compile(name)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", name, err)
		}
		v.schemas[k] = s
	}
	return v, nil
}

// Decode reads a JSON body, checks it against the schema for kind and
// then unmarshals it into dst. Schema violations are reported as *Error.
func (v *Validator) Decode(body io.Reader, kind Kind, dst any) error {
	schema, ok := v.schemas[kind]
	if !ok {
		return fmt.Errorf("unknown schema %q", kind)
	}
	buf, err := io.ReadAll(io.LimitReader(body, MaxBodyBytes+1))
	if err != nil {
		return err
	}
	if len(buf) > MaxBodyBytes {
		return &Error{Problems: []string{"body too large"}}
	}

	var doc any
	dec := json.NewDecoder(bytes.NewReader(buf))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return &Error{Problems: []string{"malformed json"}}
	}
	if err := schema.Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return &Error{Problems: problems(ve)}
		}
		return err
	}
	return json.Unmarshal(buf, dst)
}

func problems(ve *jsonschema.ValidationError) []string {
	var out []string
	for _, e := range ve.BasicOutput().Errors {
		if e.Error == "" || strings.HasPrefix(e.Error, "doesn't validate with") {
			continue
		}
		loc := e.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		out = append(out, loc+": "+e.Error)
	}
	if len(out) == 0 {
		out = append(out, ve.Message)
	}
	return out
}
