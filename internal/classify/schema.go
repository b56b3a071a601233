package classify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// responseSchema only checks the shape of the reply. The category field is
// optional; a reply without it falls back to Others.
const responseSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"properties": {
		"category": {"type": "string"}
	}
}`

var compiledSchema = jsonschema.MustCompileString("classification.json", responseSchema)

type response struct {
	Category *string `json:"category"`
}

// parseResponse validates raw against the response schema and returns the
// category, or "" when the field is absent.
func parseResponse(raw string) (string, error) {
	raw = stripCodeFence(raw)
	var doc any
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return "", fmt.Errorf("decode classification json: %w", err)
	}
	if err := compiledSchema.Validate(doc); err != nil {
		return "", fmt.Errorf("classification schema: %w", err)
	}
	var r response
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return "", fmt.Errorf("unmarshal classification: %w", err)
	}
	if r.Category == nil {
		return "", nil
	}
	return strings.TrimSpace(*r.Category), nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
