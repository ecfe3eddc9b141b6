package spaceapi

import (
	"encoding/json"
	"testing"
)

const testDescriptor = `{
	"api_compatibility": ["14"],
	"space": "Chaos Space",
	"url": "https://example.org",
	"state": {"message": "see status page"}
}`

func TestRenderPatchesState(t *testing.T) {
	document, err := Parse([]byte(testDescriptor))
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}

	rendered, err := document.Render(true, 1_700_000_000)
	if err != nil {
		t.Fatalf("unexpected render error: %v", err)
	}

	var doc map[string]any
	if err := json.Unmarshal(rendered, &doc); err != nil {
		t.Fatalf("decode rendered document: %v", err)
	}
	if doc["space"] != "Chaos Space" || doc["url"] != "https://example.org" {
		t.Fatalf("expected static fields passed through, got %v", doc)
	}
	state, ok := doc["state"].(map[string]any)
	if !ok {
		t.Fatalf("expected a state object, got %v", doc["state"])
	}
	if state["open"] != true {
		t.Fatalf("expected open=true, got %v", state["open"])
	}
	if state["lastchange"] != float64(1_700_000_000) {
		t.Fatalf("expected lastchange set, got %v", state["lastchange"])
	}
	if state["message"] != "see status page" {
		t.Fatalf("expected operator state fields kept, got %v", state)
	}
}

func TestRenderWithoutLastchange(t *testing.T) {
	document, err := Parse([]byte(`{"space": "x"}`))
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	rendered, err := document.Render(false, 0)
	if err != nil {
		t.Fatalf("unexpected render error: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(rendered, &doc); err != nil {
		t.Fatalf("decode rendered document: %v", err)
	}
	state := doc["state"].(map[string]any)
	if state["open"] != false {
		t.Fatalf("expected open=false, got %v", state["open"])
	}
	if _, present := state["lastchange"]; present {
		t.Fatal("expected lastchange omitted when unknown")
	}
}

func TestRenderDoesNotMutateDescriptor(t *testing.T) {
	document, err := Parse([]byte(testDescriptor))
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	if _, err := document.Render(true, 100); err != nil {
		t.Fatalf("unexpected render error: %v", err)
	}

	// a later render with different values must not see the earlier patch
	rendered, err := document.Render(false, 0)
	if err != nil {
		t.Fatalf("unexpected render error: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(rendered, &doc); err != nil {
		t.Fatalf("decode rendered document: %v", err)
	}
	state := doc["state"].(map[string]any)
	if state["open"] != false {
		t.Fatal("expected the stored descriptor untouched between renders")
	}
	if _, present := state["lastchange"]; present {
		t.Fatal("expected no lastchange leak from the earlier render")
	}
}

func TestParseRejectsInvalidJSON(t *testing.T) {
	if _, err := Parse([]byte("{")); err == nil {
		t.Fatal("expected an error for truncated JSON")
	}
}
