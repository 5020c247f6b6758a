package realtime

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/message_send.schema.json
var messageSendSchema []byte

const messageSendSchemaURL = "taskchat://schemas/message_send.schema.json"

// compileMessageSendSchema compiles the inbound message:send contract. Attachments must be
// structured objects; a JSON-encoded string in their place is rejected.
func compileMessageSendSchema() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true
	if err := compiler.AddResource(messageSendSchemaURL, bytes.NewReader(messageSendSchema)); err != nil {
		return nil, fmt.Errorf("load message schema: %w", err)
	}
	return compiler.Compile(messageSendSchemaURL)
}

func validatePayload(schema *jsonschema.Schema, data json.RawMessage) error {
	if schema == nil {
		return nil
	}
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("malformed payload: %w", err)
	}
	return schema.Validate(doc)
}
