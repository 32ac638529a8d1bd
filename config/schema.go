package config

import (
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	cueyaml "cuelang.org/go/encoding/yaml"
)

// documentSchema constrains the shape of a single build-definition document.
// It runs before the YAML decode so malformed declarations are rejected with
// the offending file attached, ahead of any semantic validation. Structs stay
// open so additional tool-specific keys do not break loading. The "package"
// field must be quoted: unquoted it lexes as a CUE package clause.
const documentSchema = `
"package"?: string
name?: string
description?: string
modules?: [...(string | {path: string, name?: string, description?: string, ...})]
environment?: {...}
logging?: {
	level?: string
	format?: string
	loki?: {enabled?: bool, url?: string, labels?: {[string]: string}, ...}
	...
}
telemetry?: {enabled?: bool, provider?: string, ...}
functions?: [...{
	name: string
	handler: string
	runtime?: string
	complete_platforms?: [...string]
	type: "event" | "http"
	resources?: {cpu?: string, memory_mib?: int & >0, ...}
	when?: string
	...
}]
...
`

var (
	schemaOnce  sync.Once
	schemaValue cue.Value
	schemaErr   error
)

func compiledSchema() (cue.Value, error) {
	schemaOnce.Do(func() {
		value := cuecontext.New().CompileString(documentSchema)
		if err := value.Err(); err != nil {
			schemaErr = fmt.Errorf("compile build definition schema: %w", err)
			return
		}
		schemaValue = value
	})
	return schemaValue, schemaErr
}

func validateDocument(raw []byte) error {
	schema, err := compiledSchema()
	if err != nil {
		return err
	}
	if err := cueyaml.Validate(raw, schema); err != nil {
		return fmt.Errorf("invalid build definition: %s", cueerrors.Details(err, nil))
	}
	return nil
}
