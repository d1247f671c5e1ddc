// Defensive session/conversation id extraction (spec §4.6.5): the
// upstream subprocess names its own conversation id inconsistently
// across message shapes, so every inbound payload is searched for one
// of a handful of key spellings, in preference order, at several
// plausible nesting points.
package framed

import "encoding/json"

var sessionIDKeys = []string{"threadId", "thread_id", "sessionId", "session_id"}

// extractSessionID searches raw for one of sessionIDKeys, checking the
// root object, a nested "meta" object, each item of a nested "content"
// array, and a nested "data" object (the shape server notifications
// wrap their payload in), in that order. Returns ("", false) if none of
// the spellings appear anywhere plausible.
func extractSessionID(raw json.RawMessage) (string, bool) {
	var root map[string]any
	if err := json.Unmarshal(raw, &root); err != nil {
		return "", false
	}
	return searchObject(root)
}

func searchObject(obj map[string]any) (string, bool) {
	if id, ok := lookupKeys(obj); ok {
		return id, true
	}

	if meta, ok := obj["meta"].(map[string]any); ok {
		if id, ok := lookupKeys(meta); ok {
			return id, true
		}
	}

	if content, ok := obj["content"].([]any); ok {
		for _, item := range content {
			if m, ok := item.(map[string]any); ok {
				if id, ok := lookupKeys(m); ok {
					return id, true
				}
			}
		}
	}

	if data, ok := obj["data"].(map[string]any); ok {
		if id, ok := searchObject(data); ok {
			return id, true
		}
	}

	return "", false
}

func lookupKeys(obj map[string]any) (string, bool) {
	for _, key := range sessionIDKeys {
		if v, ok := obj[key]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s, true
			}
		}
	}
	return "", false
}
