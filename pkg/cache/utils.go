package cache

import (
	"encoding/json"
	"fmt"
	"strings"
)

// GenerateKey joins prefix and id.
func GenerateKey(prefix string, id string) string {
	return prefix + ":" + id
}

// BuildPattern matches every key starting with prefix.
func BuildPattern(prefix string) string {
	return prefix + "*"
}

func matchPattern(pattern, key string) bool {
	if p, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(key, p)
	}
	return pattern == key
}

// encode stores strings verbatim and everything else as JSON, so both
// backends hand back the same bytes.
func encode(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("cache encode: %w", err)
	}
	return data, nil
}

func decode(data []byte, dest interface{}) error {
	switch d := dest.(type) {
	case *string:
		*d = string(data)
		return nil
	case *[]byte:
		*d = append((*d)[:0], data...)
		return nil
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("cache decode: %w", err)
	}
	return nil
}
