package protocol

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

const schemaBaseURL = "https://railwars.gg/schemas/"

var (
	schemaOnce      sync.Once
	schemaErr       error
	relaySchema     *jsonschema.Schema
	subscribeSchema *jsonschema.Schema
)

func compileSchemas() {
	c := jsonschema.NewCompiler()
	for _, name := range []string{"relay.schema.json", "subscribe.schema.json"} {
		b, err := schemaFS.ReadFile("schemas/" + name)
		if err != nil {
			schemaErr = err
			return
		}
		if err := c.AddResource(schemaBaseURL+name, bytes.NewReader(b)); err != nil {
			schemaErr = fmt.Errorf("add schema %s: %w", name, err)
			return
		}
	}
	if relaySchema, schemaErr = c.Compile(schemaBaseURL + "relay.schema.json"); schemaErr != nil {
		return
	}
	subscribeSchema, schemaErr = c.Compile(schemaBaseURL + "subscribe.schema.json")
}

// ValidateRelay checks a raw relay POST body.
func ValidateRelay(raw []byte) error {
	return validate(raw, func() *jsonschema.Schema { return relaySchema })
}

// ValidateSubscribe checks a raw SUBSCRIBE frame.
func ValidateSubscribe(raw []byte) error {
	return validate(raw, func() *jsonschema.Schema { return subscribeSchema })
}

func validate(raw []byte, pick func() *jsonschema.Schema) error {
	schemaOnce.Do(compileSchemas)
	if schemaErr != nil {
		return schemaErr
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	return pick().Validate(v)
}
