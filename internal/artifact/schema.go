package artifact

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// Kind names an artifact document type.
type Kind string

const (
	KindExtract  Kind = "extract"
	KindDiscover Kind = "discover"
)

var (
	schemaOnce sync.Once
	schemas    map[Kind]*jsonschema.Schema
	schemaErr  error
)

func loadSchemas() {
	schemas = make(map[Kind]*jsonschema.Schema)
	for _, kind := range []Kind{KindExtract, KindDiscover} {
		name := string(kind) + ".schema.json"
		raw, err := schemaFS.ReadFile("schemas/" + name)
		if err != nil {
			schemaErr = fmt.Errorf("read schema %s: %w", name, err)
			return
		}

		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(name, bytes.NewReader(raw)); err != nil {
			schemaErr = fmt.Errorf("add schema %s: %w", name, err)
			return
		}
		schema, err := compiler.Compile(name)
		if err != nil {
			schemaErr = fmt.Errorf("compile schema %s: %w", name, err)
			return
		}
		schemas[kind] = schema
	}
}

// Validate checks raw JSON against the schema for kind.
func Validate(kind Kind, raw []byte) error {
	schemaOnce.Do(loadSchemas)
	if schemaErr != nil {
		return schemaErr
	}
	schema, ok := schemas[kind]
	if !ok {
		return fmt.Errorf("no schema for artifact kind %q", kind)
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}
