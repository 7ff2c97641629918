package answer

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/kailas-cloud/memex/internal/domain"
)

// compileSchema parses and resolves a caller-supplied JSON schema.
func compileSchema(raw json.RawMessage) (*jsonschema.Resolved, error) {
	var s jsonschema.Schema
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, domain.Malformed("invalid json schema: %v", err)
	}
	resolved, err := s.Resolve(&jsonschema.ResolveOptions{})
	if err != nil {
		return nil, domain.Malformed("invalid json schema: %v", err)
	}
	return resolved, nil
}

// parseOutput extracts the JSON object from a completion and validates it
// against schema.
func parseOutput(text string, schema *jsonschema.Resolved) (json.RawMessage, error) {
	body := stripFences(text)

	var instance any
	if err := json.Unmarshal([]byte(body), &instance); err != nil {
		return nil, fmt.Errorf("completion is not valid JSON: %w: %w: %v",
			domain.ErrSchemaViolation, domain.ErrMalformedInput, err)
	}
	if err := schema.Validate(instance); err != nil {
		return nil, fmt.Errorf("completion: %w: %w: %v", domain.ErrSchemaViolation, domain.ErrMalformedInput, err)
	}
	return json.RawMessage(body), nil
}

// stripFences removes a surrounding markdown code fence, with or without a
// language tag.
func stripFences(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
