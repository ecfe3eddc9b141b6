package spaceapi

import (
	"encoding/json"
	"fmt"
	"os"
)

// Document holds the static SpaceAPI descriptor. Everything except
// state.open and state.lastchange is operator-provided and passed through
// untouched.
type Document struct {
	static map[string]any
}

// Load reads the static descriptor JSON from disk.
func Load(path string) (*Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read spaceapi document: %w", err)
	}
	return Parse(raw)
}

// Parse builds a Document from raw descriptor JSON.
func Parse(raw []byte) (*Document, error) {
	var static map[string]any
	if err := json.Unmarshal(raw, &static); err != nil {
		return nil, fmt.Errorf("parse spaceapi document: %w", err)
	}
	return &Document{static: static}, nil
}

// Render patches the open flag and last-change timestamp into the state
// object and serializes the document. The stored descriptor is never
// mutated.
func (d *Document) Render(open bool, lastchange int64) ([]byte, error) {
	doc := make(map[string]any, len(d.static)+1)
	for key, value := range d.static {
		doc[key] = value
	}

	state := make(map[string]any)
	if existing, ok := d.static["state"].(map[string]any); ok {
		for key, value := range existing {
			state[key] = value
		}
	}
	state["open"] = open
	if lastchange > 0 {
		state["lastchange"] = lastchange
	}
	doc["state"] = state

	return json.Marshal(doc)
}
