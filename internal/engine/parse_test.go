package engine_test

import (
	"testing"

	"archon/internal/engine"
)

func TestParseManifestFencedJSON(t *testing.T) {
	raw := "Built it. Here is the manifest:\n```json\n{\"task_id\":\"task_abc\",\"artifacts\":[{\"path\":\"internal/x.go\",\"kind\":\"source\"}],\"token_usage\":{\"input_tokens\":50,\"output_tokens\":20}}\n```\nDone."
	m := engine.ParseManifest("task_fallback", raw)
	if m.TaskID != "task_abc" {
		t.Fatalf("task id = %s, manifest's own id must win", m.TaskID)
	}
	if len(m.Artifacts) != 1 || m.Artifacts[0].Path != "internal/x.go" {
		t.Fatalf("artifacts = %+v", m.Artifacts)
	}
	if m.TokenUsage.InputTokens != 50 {
		t.Fatalf("usage = %+v", m.TokenUsage)
	}
}

func TestParseManifestSkipsBadFences(t *testing.T) {
	raw := "```json\nnot json at all\n```\nthen later\n```json\n{\"artifacts\":[{\"path\":\"a.go\"}]}\n```"
	m := engine.ParseManifest("task_1", raw)
	if len(m.Artifacts) != 1 || m.Artifacts[0].Path != "a.go" {
		t.Fatalf("later fence not used: %+v", m)
	}
	if m.TaskID != "task_1" {
		t.Fatalf("empty task_id should fall back to caller's: %s", m.TaskID)
	}
}

func TestParseManifestRawScan(t *testing.T) {
	raw := `The model rambled, then emitted {"task_id":"task_raw","artifacts":[{"path":"pkg/y.go","summary":"has a } brace in a string"}]} without fences.`
	m := engine.ParseManifest("task_1", raw)
	if m.TaskID != "task_raw" {
		t.Fatalf("raw scan failed: %+v", m)
	}
	if len(m.Artifacts) != 1 || m.Artifacts[0].Summary != "has a } brace in a string" {
		t.Fatalf("string-aware brace matching broken: %+v", m.Artifacts)
	}
}

func TestParseManifestFallsBackToEmpty(t *testing.T) {
	m := engine.ParseManifest("task_x", "I did the work but forgot the manifest entirely.")
	if m.TaskID != "task_x" {
		t.Fatalf("task id = %s", m.TaskID)
	}
	if len(m.Artifacts) != 0 {
		t.Fatalf("artifacts = %+v", m.Artifacts)
	}
	if len(m.Notes) != 1 || m.Notes[0] != "manifest parsing fell back to empty manifest" {
		t.Fatalf("notes = %v", m.Notes)
	}
}

func TestParseManifestIgnoresUnrelatedObjects(t *testing.T) {
	// a JSON object with neither task_id nor artifacts is not a manifest
	m := engine.ParseManifest("task_x", `config: {"retries": 3, "mode": "fast"}`)
	if len(m.Notes) != 1 {
		t.Fatalf("expected fallback manifest, got %+v", m)
	}
}
