package orchestrator

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/dvail/porterd/internal/job"
)

var fencedJSONRe = regexp.MustCompile("(?s)```json\\s*(.*?)```")

// ExtractPayload recovers a structured payload from free-text agent output.
// The agent has no enforced output schema, so this is maximally tolerant:
// first a fenced JSON block, then the whole text as JSON, and finally the raw
// text wrapped so a formatting slip never fails an otherwise completed turn.
func ExtractPayload(text string) map[string]any {
	if m := fencedJSONRe.FindStringSubmatch(text); m != nil {
		var payload map[string]any
		if err := json.Unmarshal([]byte(strings.TrimSpace(m[1])), &payload); err == nil {
			return payload
		}
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &payload); err == nil {
		return payload
	}

	return map[string]any{"rawOutput": text}
}

// MapResult projects the execution agent's payload onto the job result
// fields. Per-table row counts are summed into one total.
func MapResult(payload map[string]any) *job.Result {
	if payload == nil {
		return &job.Result{Summary: "Migration completed. Check logs for details."}
	}
	if _, raw := payload["rawOutput"]; raw && len(payload) == 1 {
		return &job.Result{Summary: "Migration completed. Check logs for details."}
	}

	res := &job.Result{
		PRURL:        stringValue(payload["pr_url"]),
		PRNumber:     intValue(payload["pr_number"]),
		FilesChanged: intValue(payload["files_changed"]),
	}

	switch v := payload["collections_created"].(type) {
	case []any:
		res.CollectionsCreated = len(v)
	default:
		res.CollectionsCreated = intValue(v)
	}

	switch v := payload["rows_migrated"].(type) {
	case map[string]any:
		var total int64
		for _, n := range v {
			total += int64(floatValue(n))
		}
		res.RowsMigrated = total
	default:
		res.RowsMigrated = int64(floatValue(v))
	}

	if notes, ok := payload["notes"].([]any); ok && len(notes) > 0 {
		parts := make([]string, 0, len(notes))
		for _, n := range notes {
			if s := stringValue(n); s != "" {
				parts = append(parts, s)
			}
		}
		res.Summary = strings.Join(parts, ", ")
	}
	if res.Summary == "" {
		res.Summary = stringValue(payload["summary"])
	}

	return res
}

func stringValue(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

func intValue(v any) int {
	return int(floatValue(v))
}

func floatValue(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case json.Number:
		f, _ := n.Float64()
		return f
	default:
		return 0
	}
}
