package orchestrator

import "testing"

func TestExtractPayloadFencedBlock(t *testing.T) {
	text := "Here is the migration plan:\n```json\n{\"summary\": \"move users\", \"tables\": [\"users\"]}\n```\nLet me know if anything is unclear."

	payload := ExtractPayload(text)
	if payload["summary"] != "move users" {
		t.Fatalf("unexpected summary: %v", payload["summary"])
	}
	tables, ok := payload["tables"].([]any)
	if !ok || len(tables) != 1 || tables[0] != "users" {
		t.Fatalf("unexpected tables: %v", payload["tables"])
	}
}

func TestExtractPayloadWholeTextJSON(t *testing.T) {
	payload := ExtractPayload("  {\"pr_url\": \"https://example.com/pr/7\"}  ")
	if payload["pr_url"] != "https://example.com/pr/7" {
		t.Fatalf("unexpected payload: %v", payload)
	}
}

func TestExtractPayloadFallsBackToRawOutput(t *testing.T) {
	text := "I could not produce structured output this time."
	payload := ExtractPayload(text)
	if payload["rawOutput"] != text {
		t.Fatalf("expected rawOutput fallback, got %v", payload)
	}
}

func TestExtractPayloadBrokenFenceFallsThrough(t *testing.T) {
	// A fenced block with invalid JSON should not poison extraction when the
	// rest of the text is not JSON either.
	text := "```json\n{not json}\n```"
	payload := ExtractPayload(text)
	if payload["rawOutput"] != text {
		t.Fatalf("expected rawOutput fallback, got %v", payload)
	}
}

func TestMapResultSumsRowCounts(t *testing.T) {
	res := MapResult(map[string]any{
		"pr_url":              "https://example.com/pr/12",
		"pr_number":           float64(12),
		"files_changed":       float64(34),
		"collections_created": []any{"users", "orders", "sessions"},
		"rows_migrated": map[string]any{
			"users":  float64(1500),
			"orders": float64(250),
		},
		"summary": "migrated two tables",
	})

	if res.PRURL != "https://example.com/pr/12" || res.PRNumber != 12 {
		t.Fatalf("unexpected PR fields: %+v", res)
	}
	if res.FilesChanged != 34 {
		t.Fatalf("files changed: got %d want 34", res.FilesChanged)
	}
	if res.CollectionsCreated != 3 {
		t.Fatalf("collections created: got %d want 3", res.CollectionsCreated)
	}
	if res.RowsMigrated != 1750 {
		t.Fatalf("rows migrated: got %d want 1750", res.RowsMigrated)
	}
	if res.Summary != "migrated two tables" {
		t.Fatalf("unexpected summary: %q", res.Summary)
	}
}

func TestMapResultScalarCounts(t *testing.T) {
	res := MapResult(map[string]any{
		"collections_created": float64(2),
		"rows_migrated":       float64(900),
	})
	if res.CollectionsCreated != 2 || res.RowsMigrated != 900 {
		t.Fatalf("unexpected counts: %+v", res)
	}
}

func TestMapResultNotesJoinedIntoSummary(t *testing.T) {
	res := MapResult(map[string]any{
		"notes": []any{"created indexes", "dropped legacy views"},
	})
	if res.Summary != "created indexes, dropped legacy views" {
		t.Fatalf("unexpected summary: %q", res.Summary)
	}
}

func TestMapResultRawOutputOnly(t *testing.T) {
	res := MapResult(map[string]any{"rawOutput": "free text"})
	if res.Summary != "Migration completed. Check logs for details." {
		t.Fatalf("unexpected summary: %q", res.Summary)
	}
	if res.RowsMigrated != 0 || res.FilesChanged != 0 {
		t.Fatalf("expected zeroed counters: %+v", res)
	}
}
