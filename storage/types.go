package storage

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
)

// StringSlice, JSONMap, and FloatSlice are JSON-encoded column adapters so
// answer options, metadata, and embeddings round-trip through a single text
// column regardless of dialect.
type StringSlice []string

func (s StringSlice) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	return json.Marshal([]string(s))
}

func (s *StringSlice) Scan(value interface{}) error {
	return scanJSON(value, s)
}

type FloatSlice []float32

func (f FloatSlice) Value() (driver.Value, error) {
	if f == nil {
		return "null", nil
	}
	return json.Marshal([]float32(f))
}

func (f *FloatSlice) Scan(value interface{}) error {
	return scanJSON(value, f)
}

type JSONMap map[string]interface{}

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	return json.Marshal(map[string]interface{}(m))
}

func (m *JSONMap) Scan(value interface{}) error {
	return scanJSON(value, m)
}

func scanJSON(value interface{}, out interface{}) error {
	if value == nil {
		return nil
	}
	switch v := value.(type) {
	case []byte:
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, out)
	case string:
		if v == "" {
			return nil
		}
		return json.Unmarshal([]byte(v), out)
	default:
		return errors.New("storage: unsupported scan source type")
	}
}
