// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 BidMart Contributors

package bulk

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/samber/oops"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

// SchemaID is the $id of the bulk request JSON Schema.
const SchemaID = "https://bidmart.dev/schemas/bulk-request.schema.json"

var (
	compiledOnce   sync.Once
	compiledSchema *jschema.Schema
	compiledErr    error
)

// GenerateSchema generates the JSON Schema for Request.
func GenerateSchema() ([]byte, error) {
	r := jsonschema.Reflector{
		DoNotReference: true,
	}
	schema := r.Reflect(&Request{})
	schema.ID = jsonschema.ID(SchemaID)
	schema.Title = "BidMart Bulk Request"
	schema.Description = "A single bulk operation over documents of one collection"

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	return data, nil
}

// ParseRequest decodes a JSON or YAML bulk request and validates it against
// the request schema. Shape errors carry code BULK_INVALID_REQUEST.
// The item ceiling is not applied here.
func ParseRequest(data []byte) (Request, error) {
	if len(data) == 0 {
		return Request{}, oops.Code("BULK_INVALID_REQUEST").Errorf("request body is empty")
	}

	raw, err := decodeGeneric(data)
	if err != nil {
		return Request{}, oops.Code("BULK_INVALID_REQUEST").Wrapf(err, "invalid request encoding")
	}
	generic := toJSONTypes(raw)
	// A null or empty data payload means no payload.
	if m, ok := generic.(map[string]any); ok {
		if v, present := m["data"]; present && v == nil {
			delete(m, "data")
		}
	}

	sch, err := requestSchema()
	if err != nil {
		return Request{}, oops.Code("BULK_SCHEMA_UNAVAILABLE").Wrap(err)
	}
	if err := sch.Validate(generic); err != nil {
		return Request{}, oops.Code("BULK_INVALID_REQUEST").Wrapf(err, "request does not match schema")
	}

	encoded, err := json.Marshal(generic)
	if err != nil {
		return Request{}, oops.Code("BULK_INVALID_REQUEST").Wrap(err)
	}
	var req Request
	if err := json.Unmarshal(encoded, &req); err != nil {
		return Request{}, oops.Code("BULK_INVALID_REQUEST").Wrap(err)
	}
	if err := req.Validate(); err != nil {
		return Request{}, err
	}
	return req, nil
}

// decodeGeneric decodes JSON documents with encoding/json and everything
// else as YAML.
func decodeGeneric(data []byte) (any, error) {
	var raw any
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		err := json.Unmarshal(trimmed, &raw)
		return raw, err
	}
	err := yaml.Unmarshal(data, &raw)
	return raw, err
}

func requestSchema() (*jschema.Schema, error) {
	compiledOnce.Do(func() {
		schemaBytes, err := GenerateSchema()
		if err != nil {
			compiledErr = err
			return
		}
		var schemaData any
		if err := json.Unmarshal(schemaBytes, &schemaData); err != nil {
			compiledErr = fmt.Errorf("failed to parse schema JSON: %w", err)
			return
		}
		c := jschema.NewCompiler()
		if err := c.AddResource("bulk-request.schema.json", schemaData); err != nil {
			compiledErr = fmt.Errorf("failed to add schema resource: %w", err)
			return
		}
		compiledSchema, compiledErr = c.Compile("bulk-request.schema.json")
	})
	return compiledSchema, compiledErr
}

// toJSONTypes normalizes YAML-decoded values into the types encoding/json
// produces, so schema validation sees the same shapes for both encodings.
func toJSONTypes(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = toJSONTypes(item)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[fmt.Sprint(k)] = toJSONTypes(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = toJSONTypes(item)
		}
		return out
	case int:
		return float64(val)
	case int64:
		return float64(val)
	case uint64:
		return float64(val)
	case time.Time:
		return val.Format(time.RFC3339Nano)
	default:
		return val
	}
}
