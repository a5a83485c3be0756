package signal

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"
)

// payloadSchema bounds what external callers may post. Unknown fields are
// tolerated; the schema only pins the types of the fields we read.
const payloadSchema = `{
  "type": "object",
  "required": ["symbol", "side", "quantity", "price"],
  "properties": {
    "symbol":     {"type": "string", "minLength": 1},
    "side":       {"type": "string", "enum": ["BUY", "SELL", "HOLD", "buy", "sell", "hold"]},
    "quantity":   {"type": "number", "exclusiveMinimum": 0},
    "price":      {"type": "number", "exclusiveMinimum": 0},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "source":     {"type": "string"},
    "algorithm":  {"type": "string"},
    "window_sec": {"type": "number", "exclusiveMinimum": 0},
    "metadata":   {"type": "object"}
  }
}`

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = jsonschema.CompileString("signal.json", payloadSchema)
	})
	return schema, schemaErr
}

// DecodePayload parses an inbound JSON signal payload. The schema rejects
// structurally broken documents up front; field extraction is lenient after
// that so extra metadata survives into Signal.Metadata.
func DecodePayload(raw []byte) (Signal, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return Signal{}, fmt.Errorf("empty payload")
	}
	if !gjson.Valid(trimmed) {
		return Signal{}, fmt.Errorf("payload is not valid JSON")
	}

	sch, err := compiledSchema()
	if err != nil {
		return Signal{}, fmt.Errorf("signal schema compile failed: %w", err)
	}
	var doc any
	if err := json.Unmarshal([]byte(trimmed), &doc); err != nil {
		return Signal{}, fmt.Errorf("payload decode failed: %w", err)
	}
	if err := sch.Validate(doc); err != nil {
		return Signal{}, fmt.Errorf("payload schema violation: %w", err)
	}

	parsed := gjson.Parse(trimmed)
	sig := Signal{
		ID:         strings.TrimSpace(parsed.Get("id").String()),
		Symbol:     strings.ToUpper(strings.TrimSpace(parsed.Get("symbol").String())),
		Side:       Side(strings.ToUpper(strings.TrimSpace(parsed.Get("side").String()))),
		Confidence: parsed.Get("confidence").Float(),
		Price:      parsed.Get("price").Float(),
		Quantity:   parsed.Get("quantity").Float(),
		Source:     Source(strings.ToLower(strings.TrimSpace(parsed.Get("source").String()))),
		Algorithm:  strings.ToUpper(strings.TrimSpace(parsed.Get("algorithm").String())),
		Timestamp:  time.Now().UTC(),
	}
	if sig.ID == "" {
		sig.ID = uuid.NewString()
	}
	if sig.Source == "" {
		sig.Source = SourceManual
	}
	if !parsed.Get("confidence").Exists() {
		sig.Confidence = 1
	}
	if winSec := parsed.Get("window_sec").Float(); winSec > 0 {
		sig.Window = time.Duration(winSec * float64(time.Second))
	}
	if meta := parsed.Get("metadata"); meta.Exists() && meta.IsObject() {
		m := make(map[string]any)
		if err := json.Unmarshal([]byte(meta.Raw), &m); err == nil && len(m) > 0 {
			sig.Metadata = m
		}
	}
	if ts := parsed.Get("timestamp").String(); ts != "" {
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			sig.Timestamp = t
		}
	}
	return sig, nil
}
