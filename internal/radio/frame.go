package radio

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// StringField decodes payload as a JSON object and returns the value stored
// under key as text. Strings are returned as is and numbers in their JSON
// form. ok is false when the key is absent, null, an empty string, zero, or
// any other type. err is set only when payload is not a JSON object.
func StringField(payload []byte, key string) (value string, ok bool, err error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(payload, &obj); err != nil {
		return "", false, fmt.Errorf("invalid json: %w", err)
	}
	if obj == nil {
		return "", false, fmt.Errorf("invalid json: not an object")
	}
	raw, found := obj[key]
	if !found {
		return "", false, nil
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		if err := json.Unmarshal(raw, &value); err != nil || value == "" {
			return "", false, nil
		}
		return value, true, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", false, nil
	}
	if f, err := strconv.ParseFloat(n.String(), 64); err != nil || f == 0 {
		return "", false, nil
	}
	return n.String(), true, nil
}
