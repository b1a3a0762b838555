package api

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Error is the remote API's error envelope, reduced to a status code and one
// human-readable message.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("api: %s (status %d)", e.Message, e.Status)
}

// newAPIError extracts a message from a non-2xx response body. JSON bodies are
// probed in a fixed priority order: message, error, detail (string), then
// detail.message, then details as an array or a field->message map. Anything
// else is surfaced as the raw body text.
func newAPIError(status int, contentType string, body []byte) *Error {
	msg := strings.TrimSpace(string(body))
	if strings.Contains(strings.ToLower(contentType), "application/json") {
		if extracted := extractMessage(body); extracted != "" {
			msg = extracted
		}
	}
	if msg == "" {
		msg = fmt.Sprintf("request failed with status %d", status)
	}
	return &Error{Status: status, Message: msg}
}

func extractMessage(body []byte) string {
	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		return ""
	}

	if s := stringField(obj, "message"); s != "" {
		return s
	}
	if s := stringField(obj, "error"); s != "" {
		return s
	}
	switch detail := obj["detail"].(type) {
	case string:
		if s := strings.TrimSpace(detail); s != "" {
			return s
		}
	case map[string]any:
		if s := stringField(detail, "message"); s != "" {
			return s
		}
	}
	switch details := obj["details"].(type) {
	case []any:
		if s := joinDetailList(details); s != "" {
			return s
		}
	case map[string]any:
		if s := joinDetailMap(details); s != "" {
			return s
		}
	}
	return ""
}

func joinDetailList(items []any) string {
	var parts []string
	for _, item := range items {
		switch v := item.(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				parts = append(parts, s)
			}
		case map[string]any:
			if s := stringField(v, "message"); s != "" {
				parts = append(parts, s)
			}
		}
	}
	return strings.Join(parts, "; ")
}

func joinDetailMap(fields map[string]any) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		if s, ok := fields[k].(string); ok && strings.TrimSpace(s) != "" {
			parts = append(parts, fmt.Sprintf("%s: %s", k, strings.TrimSpace(s)))
		}
	}
	return strings.Join(parts, "; ")
}

func stringField(obj map[string]any, key string) string {
	if v, ok := obj[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}
