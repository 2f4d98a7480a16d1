package core

import (
	"encoding/json"
	"fmt"
	"maps"
	"sync"

	"pkt.systems/webbox/internal/languages"
	"pkt.systems/webbox/schema"
)

// TestCode holds the grading code attached to an embed.
type TestCode struct {
	mu       sync.Mutex
	name     string
	metadata map[string]any
	buffer   TextBuffer
}

// NewTestCode creates test code. A missing name defaults to tests.<ext> of
// the language.
func NewTestCode(factory TextBufferFactory, metadata map[string]any, data, language string) *TestCode {
	if factory == nil {
		factory = MemoryBufferFactory{}
	}
	meta := maps.Clone(metadata)
	if meta == nil {
		meta = map[string]any{}
	}
	name, _ := meta["name"].(string)
	if name == "" {
		name = languages.TestFileName(language)
		meta["name"] = name
	}
	return &TestCode{
		name:     name,
		metadata: meta,
		buffer:   factory.CreateModel(name, data, languages.ModeForFile(name)),
	}
}

// Name returns the file name the tests are written to.
func (t *TestCode) Name() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.name
}

// Value returns the test source.
func (t *TestCode) Value() string { return t.buffer.Value() }

// SetValue replaces the test source.
func (t *TestCode) SetValue(value string) { t.buffer.SetValue(value) }

// Metadata returns a copy of the asset metadata.
func (t *TestCode) Metadata() map[string]any {
	t.mu.Lock()
	defer t.mu.Unlock()
	return maps.Clone(t.metadata)
}

// IsActive reports whether the tests are enabled for users.
func (t *TestCode) IsActive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	active, _ := t.metadata["active"].(bool)
	return active
}

// SetActive toggles the tests for users.
func (t *TestCode) SetActive(active bool) {
	t.mu.Lock()
	t.metadata["active"] = active
	t.mu.Unlock()
}

// ContainsText reports whether any test code exists.
func (t *TestCode) ContainsText() bool { return t.Value() != "" }

// Asset renders the tests as an embed asset.
func (t *TestCode) Asset() schema.Asset {
	return schema.Asset{Type: schema.TestsAssetType, Data: t.Value(), Metadata: t.Metadata()}
}

// TestResultView is the item of a testresult tab.
type TestResultView struct {
	Result schema.TestResult
}

// Title implements Titled.
func (v *TestResultView) Title() string {
	return fmt.Sprintf("Testergebnis %.0f%%", v.Result.Percentage())
}

// decodeTestResult parses one document of the result stream.
func decodeTestResult(raw json.RawMessage) (schema.TestResult, error) {
	var result schema.TestResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return schema.TestResult{}, fmt.Errorf("decode test result: %w", err)
	}
	return result, nil
}
