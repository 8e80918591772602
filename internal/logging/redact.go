package logging

import (
	"encoding/json"
	"fmt"
	"strings"
)

// maxLoggedString bounds string values in logged tool payloads. GIMP results
// can carry whole images as base64.
const maxLoggedString = 256

var secretKeys = map[string]bool{
	"api_key":       true,
	"apikey":        true,
	"authorization": true,
	"password":      true,
	"token":         true,
	"secret":        true,
}

var secretSuffixes = []string{"_token", "_secret", "_password", "_api_key"}

// RedactValue masks a secret, keeping the last four characters.
func RedactValue(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	if strings.HasPrefix(strings.ToLower(trimmed), "bearer ") {
		return "Bearer " + mask(trimmed[7:])
	}
	return mask(trimmed)
}

// RedactAny prepares a value for logging: secret keys are masked and long
// strings are clipped. Structs and other typed values go through their JSON
// form so worker params are covered too.
func RedactAny(value any) any {
	switch typed := value.(type) {
	case nil, bool, int, int64, uint64, float64, json.Number:
		return value
	case string:
		return clip(typed)
	case json.RawMessage:
		return RedactJSON(typed)
	case map[string]any:
		out := make(map[string]any, len(typed))
		for key, val := range typed {
			if isSecretKey(key) {
				out[key] = RedactValue(fmt.Sprint(val))
				continue
			}
			out[key] = RedactAny(val)
		}
		return out
	case map[string]string:
		out := make(map[string]string, len(typed))
		for key, val := range typed {
			if isSecretKey(key) {
				out[key] = RedactValue(val)
				continue
			}
			out[key] = clip(val)
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for i, val := range typed {
			out[i] = RedactAny(val)
		}
		return out
	case []string:
		out := make([]string, len(typed))
		for i, val := range typed {
			out[i] = clip(val)
		}
		return out
	default:
		data, err := json.Marshal(value)
		if err != nil {
			return fmt.Sprintf("<%T>", value)
		}
		return RedactJSON(data)
	}
}

func RedactJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return clip(strings.TrimSpace(string(raw)))
	}
	return RedactAny(payload)
}

func isSecretKey(key string) bool {
	lower := strings.ToLower(strings.TrimSpace(key))
	if secretKeys[lower] {
		return true
	}
	for _, suffix := range secretSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return false
}

func clip(value string) string {
	if len(value) <= maxLoggedString {
		return value
	}
	return fmt.Sprintf("%s...(%d bytes)", value[:maxLoggedString], len(value))
}

func mask(value string) string {
	if value == "" {
		return ""
	}
	if len(value) <= 4 {
		return "****"
	}
	return "****" + value[len(value)-4:]
}
