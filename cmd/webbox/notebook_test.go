package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"pkt.systems/webbox/internal/notebook"
	"pkt.systems/webbox/schema"
)

const sampleIPYNB = `{
  "nbformat": 4,
  "nbformat_minor": 2,
  "metadata": {"kernelspec": {"language": "python"}},
  "cells": [
    {"cell_type": "markdown", "metadata": {}, "source": ["# Titel\n", "Text"]},
    {"cell_type": "code", "metadata": {}, "source": "print(1)", "outputs": []}
  ]
}`

func TestImportNotebook(t *testing.T) {
	doc, err := importNotebook(context.Background(), []byte(sampleIPYNB), "python-3", "intro")
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if doc.Slug != "intro" || len(doc.Cells) != 2 {
		t.Fatalf("unexpected document %+v", doc)
	}
	if doc.Cells[0].Source != "# Titel\nText" || doc.Cells[1].CellType != schema.CellCode {
		t.Fatalf("unexpected cells %+v", doc.Cells)
	}
	for _, cell := range doc.Cells {
		if cell.ID == "" {
			t.Fatalf("cell without id: %+v", cell)
		}
	}
	if doc.Cells[1].Metadata["mode"] != "python" {
		t.Fatalf("code cell mode not set: %+v", doc.Cells[1].Metadata)
	}
}

func TestImportNotebookRejectsMalformedLanguage(t *testing.T) {
	if _, err := importNotebook(context.Background(), []byte(sampleIPYNB), "python", ""); err == nil {
		t.Fatalf("expected malformed language error")
	}
}

func TestDocumentRoundTripAndLang(t *testing.T) {
	doc, err := importNotebook(context.Background(), []byte(sampleIPYNB), "", "")
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	path := filepath.Join(t.TempDir(), "doc.json")
	if err := writeDocument(nil, path, doc); err != nil {
		t.Fatalf("write: %v", err)
	}

	root := newRootCmd()
	root.SetArgs([]string{"notebook", "lang", path, "python-3"})
	if err := root.Execute(); err != nil {
		t.Fatalf("lang: %v", err)
	}
	updated, err := readDocument(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	info, _ := updated.Metadata["language_info"].(map[string]any)
	if info["name"] != "python" || info["version"] != "3" {
		t.Fatalf("language not updated: %+v", updated.Metadata)
	}

	out := filepath.Join(t.TempDir(), "out.ipynb")
	root = newRootCmd()
	root.SetArgs([]string{"notebook", "export", path, "-o", out})
	if err := root.Execute(); err != nil {
		t.Fatalf("export: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	imported, err := notebook.LoadIPYNB(data)
	if err != nil {
		t.Fatalf("reload export: %v", err)
	}
	if len(imported.Cells) != 2 {
		t.Fatalf("expected 2 cells after export, got %d", len(imported.Cells))
	}
}
