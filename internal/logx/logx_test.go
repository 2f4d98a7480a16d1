package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"pkt.systems/pslog"
	"pkt.systems/webbox/schema"
)

func newCaptureLogger(capture *logCapture) pslog.Logger {
	return pslog.NewWithOptions(capture, pslog.Options{
		Mode:          pslog.ModeStructured,
		NoColor:       true,
		MinLevel:      pslog.InfoLevel,
		VerboseFields: true,
	})
}

func TestWithRunAddsField(t *testing.T) {
	capture := &logCapture{}
	log := WithRun(newCaptureLogger(capture), schema.RunID("r1"))
	log.Info("hello")

	entry := capture.firstEntry(t)
	if entry["run_id"] != "r1" {
		t.Fatalf("expected run_id field, got %+v", entry)
	}
	if _, ok := entry["language"]; ok {
		t.Fatalf("did not expect language field")
	}
}

func TestWithEmbedTabAddsFields(t *testing.T) {
	capture := &logCapture{}
	ctx := pslog.ContextWithLogger(context.Background(), newCaptureLogger(capture))
	log := WithEmbedTab(ctx, "e1", "tab-1")
	log.Info("hello")

	entry := capture.firstEntry(t)
	if entry["embed"] != "e1" {
		t.Fatalf("expected embed field, got %+v", entry)
	}
	if entry["tab"] != "tab-1" {
		t.Fatalf("expected tab field, got %+v", entry)
	}
}

func TestWithEmbedSkipsDuplicateMarker(t *testing.T) {
	capture := &logCapture{}
	base := newCaptureLogger(capture).With("embed", "e1")
	ctx := ContextWithEmbedLogger(context.Background(), base, "e1")
	WithEmbed(ctx, "e1").Info("hello")

	line := capture.buf.String()
	if bytes.Count([]byte(line), []byte(`"embed"`)) != 1 {
		t.Fatalf("expected single embed field, got %s", line)
	}
}

func TestCopyContextFields(t *testing.T) {
	src := ContextWithEmbedTab(context.Background(), "e1", "tab-2")
	dst := CopyContextFields(context.Background(), src)
	if got, _ := dst.Value(embedKey).(schema.EmbedID); got != "e1" {
		t.Fatalf("expected embed marker, got %q", got)
	}
	if got, _ := dst.Value(tabKey).(schema.UniqueTabID); got != "tab-2" {
		t.Fatalf("expected tab marker, got %q", got)
	}
}

type logCapture struct {
	buf bytes.Buffer
}

func (c *logCapture) Write(p []byte) (int, error) {
	return c.buf.Write(p)
}

func (c *logCapture) firstEntry(t *testing.T) map[string]any {
	t.Helper()
	data := c.buf.Bytes()
	idx := bytes.IndexByte(data, '\n')
	if idx == -1 {
		idx = len(data)
	}
	line := bytes.TrimSpace(data[:idx])
	entry := map[string]any{}
	if err := json.Unmarshal(line, &entry); err != nil {
		t.Fatalf("parse log entry: %v", err)
	}
	return entry
}
