package agent

import (
	"encoding/json"
	"strings"
)

// streamDecoder turns a raw byte stream of concatenated JSON objects (the
// agent CLI's --json output) into normalized Units. Objects may arrive split
// across arbitrary chunk boundaries, interleaved with log noise.
type streamDecoder struct {
	rawBuffer string
}

func (d *streamDecoder) Consume(chunk []byte) []Unit {
	if len(chunk) == 0 {
		return nil
	}
	d.rawBuffer += string(chunk)
	objects, remainder := splitCompleteJSONObjects(d.rawBuffer)
	d.rawBuffer = remainder

	var units []Unit
	for _, objRaw := range objects {
		var obj map[string]any
		if err := json.Unmarshal([]byte(objRaw), &obj); err != nil {
			continue
		}
		if u, ok := unitFromObject(obj); ok {
			units = append(units, u)
		}
	}
	return units
}

func unitFromObject(obj map[string]any) (Unit, bool) {
	switch kind, _ := obj["type"].(string); kind {
	case "tool_call", "tool-call", "tool_use":
		name := pickStringField(obj, "name", "tool", "tool_name")
		if name == "" {
			return Unit{}, false
		}
		return Unit{
			Kind:     UnitToolCall,
			ToolID:   pickStringField(obj, "id", "tool_call_id", "tool_use_id"),
			ToolName: name,
			ToolArgs: objectField(obj, "args", "input", "arguments"),
		}, true
	case "tool_result", "tool-result":
		return Unit{
			Kind:       UnitToolResult,
			ToolID:     pickStringField(obj, "id", "tool_call_id", "tool_use_id"),
			ToolOutput: pickStringField(obj, "output", "result", "content"),
			ToolError:  pickStringField(obj, "error", "error_message"),
		}, true
	default:
		text := textFromObject(obj)
		if strings.TrimSpace(text) == "" {
			return Unit{}, false
		}
		return Unit{Kind: UnitText, Text: text}, true
	}
}

func textFromObject(obj map[string]any) string {
	if payloads := payloadArrayFrom(obj); len(payloads) > 0 {
		parts := make([]string, 0, len(payloads))
		for _, payload := range payloads {
			if text := pickStringField(payload, "text"); text != "" {
				parts = append(parts, text)
			}
		}
		return strings.Join(parts, "\n")
	}
	return pickStringField(obj, "text", "delta", "output", "message")
}

// splitCompleteJSONObjects extracts every balanced top-level JSON object from
// raw, returning the unparsed tail. Non-JSON prefixes (CLI log lines) are
// discarded. The remainder is capped so a malformed stream cannot grow the
// buffer without bound.
func splitCompleteJSONObjects(raw string) (objects []string, remainder string) {
	remainder = raw
	for {
		start := strings.IndexByte(remainder, '{')
		if start < 0 {
			if len(remainder) > 8192 {
				remainder = remainder[len(remainder)-8192:]
			}
			return objects, remainder
		}
		if start > 0 {
			remainder = remainder[start:]
		}

		end := jsonObjectEnd(remainder)
		if end < 0 {
			if len(remainder) > 4*1024*1024 {
				remainder = remainder[len(remainder)-(2*1024*1024):]
			}
			return objects, remainder
		}

		objects = append(objects, remainder[:end+1])
		remainder = remainder[end+1:]
	}
}

func jsonObjectEnd(raw string) int {
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if inString {
			if escaped {
				escaped = false
				continue
			}
			if c == '\\' {
				escaped = true
				continue
			}
			if c == '"' {
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func payloadArrayFrom(obj map[string]any) []map[string]any {
	if direct := asObjectArray(obj["payloads"]); len(direct) > 0 {
		return direct
	}
	if result, ok := obj["result"].(map[string]any); ok {
		return asObjectArray(result["payloads"])
	}
	return nil
}

func asObjectArray(v any) []map[string]any {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(arr))
	for _, item := range arr {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func objectField(obj map[string]any, keys ...string) map[string]any {
	for _, key := range keys {
		if m, ok := obj[key].(map[string]any); ok {
			return m
		}
	}
	return nil
}

func pickStringField(obj map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := obj[key]; ok {
			if s, ok := v.(string); ok {
				s = strings.TrimSpace(s)
				if s != "" {
					return s
				}
			}
		}
	}
	return ""
}
