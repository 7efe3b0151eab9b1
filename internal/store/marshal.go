package store

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/habitsync/internal/mutation"
)

// marshalHeaders converts ordered headers to JSON TEXT for storage.
// An empty header list is stored as "[]" (never NULL).
func marshalHeaders(headers []mutation.Header) (string, error) {
	if len(headers) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(headers)
	if err != nil {
		return "", fmt.Errorf("marshal headers: %w", err)
	}
	return string(data), nil
}

// unmarshalHeaders parses stored JSON TEXT back into ordered headers.
// Returns nil for an empty list so round-trips preserve "no headers".
func unmarshalHeaders(data string) ([]mutation.Header, error) {
	if data == "" || data == "[]" {
		return nil, nil
	}
	var headers []mutation.Header
	if err := json.Unmarshal([]byte(data), &headers); err != nil {
		return nil, fmt.Errorf("unmarshal headers: %w", err)
	}
	return headers, nil
}
