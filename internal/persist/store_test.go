package persist

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"pkt.systems/webbox/schema"
)

func testEmbed() schema.Embed {
	return schema.Embed{
		ID:   "e1",
		Name: "demo",
		Meta: schema.EmbedMeta{Language: "python3", MainFile: "main.py"},
		Code: map[string]string{"main.py": "print('hallo')"},
		Assets: []schema.Asset{
			{Type: schema.TestsAssetType, Data: "assert True"},
		},
	}
}

func TestStoreGetMissing(t *testing.T) {
	store, err := NewStore(t.TempDir(), Options{})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if _, err := store.GetEmbed(context.Background(), "nope"); !errors.Is(err, schema.ErrEmbedNotFound) {
		t.Fatalf("expected ErrEmbedNotFound, got %v", err)
	}
}

func TestStoreSaveKeepsDocumentID(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, Options{})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()
	if err := store.PutEmbed(ctx, testEmbed()); err != nil {
		t.Fatalf("put: %v", err)
	}
	first, err := store.SaveEmbed(ctx, "e1", schema.SaveEmbedRequest{Code: map[string]string{"main.py": "print(1)"}})
	if err != nil || first.Error != "" || first.Document == nil {
		t.Fatalf("first save: %v %+v", err, first)
	}
	second, err := store.SaveEmbed(ctx, "e1", schema.SaveEmbedRequest{Code: map[string]string{"main.py": "print(2)"}})
	if err != nil || second.Document == nil {
		t.Fatalf("second save: %v %+v", err, second)
	}
	if first.Document.ID != second.Document.ID {
		t.Fatalf("document id changed: %s -> %s", first.Document.ID, second.Document.ID)
	}
	got, err := store.GetEmbed(ctx, "e1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Document == nil || got.Document.Code["main.py"] != "print(2)" {
		t.Fatalf("document not attached: %+v", got.Document)
	}
	if got.Code["main.py"] != "print('hallo')" {
		t.Fatalf("embed code overwritten: %v", got.Code)
	}
	info, err := os.Stat(filepath.Join(dir, documentsDir, "e1.json"))
	if err != nil {
		t.Fatalf("stat document: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected 0600 permissions, got %v", info.Mode().Perm())
	}
}

func TestStoreRefusals(t *testing.T) {
	store, err := NewStore(t.TempDir(), Options{})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()
	if resp, err := store.SaveEmbed(ctx, "missing", schema.SaveEmbedRequest{}); err != nil || resp.Error == "" {
		t.Fatalf("expected refusal for missing embed, got %v %+v", err, resp)
	}
	if resp, _ := store.UpdateEmbed(ctx, "missing", testEmbed()); resp.Error == "" {
		t.Fatalf("expected id mismatch refusal")
	}
	if resp, _ := store.DeleteEmbed(ctx, "missing"); resp.Error == "" {
		t.Fatalf("expected refusal for missing embed")
	}
	invalid := testEmbed()
	invalid.Meta.Language = ""
	if err := store.PutEmbed(ctx, invalid); !errors.Is(err, schema.ErrInvalidEmbed) {
		t.Fatalf("expected ErrInvalidEmbed, got %v", err)
	}
}

func TestStoreUpdateAndDelete(t *testing.T) {
	store, err := NewStore(t.TempDir(), Options{})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()
	if err := store.PutEmbed(ctx, testEmbed()); err != nil {
		t.Fatalf("put: %v", err)
	}
	updated := testEmbed()
	updated.Name = "renamed"
	updated.ID = ""
	if resp, err := store.UpdateEmbed(ctx, "e1", updated); err != nil || resp.Error != "" {
		t.Fatalf("update: %v %+v", err, resp)
	}
	got, err := store.GetEmbed(ctx, "e1")
	if err != nil || got.Name != "renamed" {
		t.Fatalf("update not stored: %v %+v", err, got)
	}
	if resp, err := store.DeleteEmbed(ctx, "e1"); err != nil || resp.Error != "" {
		t.Fatalf("delete: %v %+v", err, resp)
	}
	if _, err := store.GetEmbed(ctx, "e1"); !errors.Is(err, schema.ErrEmbedNotFound) {
		t.Fatalf("expected deleted embed to be missing, got %v", err)
	}
}

func TestStoreEvents(t *testing.T) {
	store, err := NewStore(t.TempDir(), Options{})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()
	events, err := store.Events(ctx)
	if err != nil || len(events) != 0 {
		t.Fatalf("expected no events, got %v %v", events, err)
	}
	run := schema.NewEventLog(schema.EventLogRun, map[string]any{"execCommand": []any{"python3", "main.py"}})
	run.Context = schema.EventContext{EmbedID: "e1", EmbedUser: "anonymous"}
	if err := store.AppendEvent(ctx, run); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.AppendEvent(ctx, schema.NewEventLog(schema.EventLogError, nil)); err != nil {
		t.Fatalf("append: %v", err)
	}
	events, err = store.Events(ctx)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 2 || events[0].Name != schema.EventLogRun || events[1].Name != schema.EventLogError {
		t.Fatalf("unexpected events %+v", events)
	}
	if !reflect.DeepEqual(events[0].Context, run.Context) {
		t.Fatalf("context mismatch: %+v", events[0].Context)
	}
}

func TestSealedStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, Options{Seal: true, KeyStorePath: filepath.Join(dir, "keys", "store.pb")})
	if err != nil {
		t.Fatalf("new sealed store: %v", err)
	}
	ctx := context.Background()
	if err := store.PutEmbed(ctx, testEmbed()); err != nil {
		t.Fatalf("put: %v", err)
	}
	raw, err := os.ReadFile(filepath.Join(dir, embedsDir, "e1.json"))
	if err != nil {
		t.Fatalf("read raw: %v", err)
	}
	if bytes.Contains(raw, []byte("print('hallo')")) {
		t.Fatalf("sealed embed stored in plain text")
	}
	got, err := store.GetEmbed(ctx, "e1")
	if err != nil {
		t.Fatalf("get sealed: %v", err)
	}
	if got.Code["main.py"] != "print('hallo')" {
		t.Fatalf("unexpected code after unseal: %v", got.Code)
	}
}

func TestSealRequiresKeyStore(t *testing.T) {
	if _, err := NewStore(t.TempDir(), Options{Seal: true}); err == nil {
		t.Fatalf("expected error without key store path")
	}
}

func TestSanitizeFileNames(t *testing.T) {
	if got := fileName("../a b"); got != ".._a_b.json" {
		t.Fatalf("unexpected file name %q", got)
	}
	if got := fileName(""); got != "unknown.json" {
		t.Fatalf("unexpected empty name %q", got)
	}
}
