package observerproto

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

const schemaBase = "https://trustcollapse.dev/schemas/"

// ErrInvalidMessage wraps every schema or decode failure.
var ErrInvalidMessage = errors.New("invalid observer message")

var (
	schemasOnce sync.Once
	schemasErr  error
	schemas     map[string]*jsonschema.Schema
)

func loadSchemas() {
	names := []string{"subscribe.schema.json", "control.schema.json", "frame.schema.json"}
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	for _, name := range names {
		b, err := schemaFS.ReadFile("schemas/" + name)
		if err != nil {
			schemasErr = err
			return
		}
		if err := c.AddResource(schemaBase+name, bytes.NewReader(b)); err != nil {
			schemasErr = fmt.Errorf("%s: %w", name, err)
			return
		}
	}
	schemas = make(map[string]*jsonschema.Schema, len(names))
	for _, name := range names {
		s, err := c.Compile(schemaBase + name)
		if err != nil {
			schemasErr = fmt.Errorf("compile %s: %w", name, err)
			return
		}
		schemas[name] = s
	}
}

// Schema returns the compiled schema with the given file name, e.g.
// "frame.schema.json".
func Schema(name string) (*jsonschema.Schema, error) {
	schemasOnce.Do(loadSchemas)
	if schemasErr != nil {
		return nil, schemasErr
	}
	s := schemas[name]
	if s == nil {
		return nil, fmt.Errorf("unknown schema %q", name)
	}
	return s, nil
}

// Validate checks raw JSON against the named schema.
func Validate(name string, raw []byte) error {
	s, err := Schema(name)
	if err != nil {
		return err
	}
	var v any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := s.Validate(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return nil
}

// DecodeSubscribe validates and decodes a SUBSCRIBE message.
func DecodeSubscribe(raw []byte) (SubscribeMsg, error) {
	var m SubscribeMsg
	if err := Validate("subscribe.schema.json", raw); err != nil {
		return m, err
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return m, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if m.ProtocolVersion != Version {
		return m, fmt.Errorf("%w: protocol version %q, want %q", ErrInvalidMessage, m.ProtocolVersion, Version)
	}
	return m, nil
}

// DecodeControl validates and decodes a CONTROL message.
func DecodeControl(raw []byte) (ControlMsg, error) {
	var m ControlMsg
	if err := Validate("control.schema.json", raw); err != nil {
		return m, err
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return m, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if m.ProtocolVersion != Version {
		return m, fmt.Errorf("%w: protocol version %q, want %q", ErrInvalidMessage, m.ProtocolVersion, Version)
	}
	return m, nil
}
