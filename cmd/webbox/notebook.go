package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"pkt.systems/pslog"
	"pkt.systems/webbox/internal/notebook"
	"pkt.systems/webbox/schema"
)

func newNotebookCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notebook",
		Short: "Convert and edit notebook documents",
	}
	cmd.AddCommand(newNotebookImportCmd())
	cmd.AddCommand(newNotebookExportCmd())
	cmd.AddCommand(newNotebookLangCmd())
	return cmd
}

func newNotebookImportCmd() *cobra.Command {
	var output string
	var language string
	var slug string
	cmd := &cobra.Command{
		Use:   "import <file.ipynb>",
		Short: "Convert an ipynb file into a notebook document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			doc, err := importNotebook(cmd.Context(), data, language, slug)
			if err != nil {
				return err
			}
			return writeDocument(cmd.OutOrStdout(), output, doc)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the document to this file instead of stdout")
	cmd.Flags().StringVar(&language, "lang", "", "notebook language as name-version, e.g. python-3")
	cmd.Flags().StringVar(&slug, "slug", "", "notebook slug")
	return cmd
}

func newNotebookExportCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export <document.json>",
		Short: "Render a notebook document as ipynb",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := readDocument(args[0])
			if err != nil {
				return err
			}
			data, err := notebook.ExportIPYNB(notebook.FromDocument(doc))
			if err != nil {
				return err
			}
			if output == "" {
				_, err = cmd.OutOrStdout().Write(append(data, '\n'))
				return err
			}
			return os.WriteFile(output, data, 0o644)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the notebook to this file instead of stdout")
	return cmd
}

func newNotebookLangCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lang <document.json> <name-version>",
		Short: "Set the language of a notebook document in place",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := readDocument(args[0])
			if err != nil {
				return err
			}
			store := notebook.NewStore(notebook.FromDocument(doc), pslog.Ctx(cmd.Context()))
			if err := store.Dispatch(cmd.Context(), notebook.UpdateNotebookMeta{Name: "language", Value: args[1]}); err != nil {
				return err
			}
			return writeDocument(cmd.OutOrStdout(), args[0], notebook.ToDocument(store.State()))
		},
	}
	return cmd
}

func importNotebook(ctx context.Context, data []byte, language, slug string) (schema.NotebookDocument, error) {
	imported, err := notebook.LoadIPYNB(data)
	if err != nil {
		return schema.NotebookDocument{}, err
	}
	store := notebook.NewStore(notebook.New(), pslog.Ctx(ctx))
	if language != "" {
		if err := store.Dispatch(ctx, notebook.UpdateNotebookMeta{Name: "language", Value: language}); err != nil {
			return schema.NotebookDocument{}, err
		}
	}
	if slug != "" {
		if err := store.Dispatch(ctx, notebook.UpdateNotebookMeta{Name: "slug", Value: slug}); err != nil {
			return schema.NotebookDocument{}, err
		}
	}
	cellLanguage := imported.Language
	if cellLanguage == "" {
		cellLanguage = "python"
	}
	if err := store.Dispatch(ctx, notebook.AddCellsFromJS{Cells: imported.Cells, Language: cellLanguage}); err != nil {
		return schema.NotebookDocument{}, err
	}
	if err := store.Dispatch(ctx, notebook.PrepareCells{}); err != nil {
		return schema.NotebookDocument{}, err
	}
	return notebook.ToDocument(store.State()), nil
}

func readDocument(path string) (schema.NotebookDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return schema.NotebookDocument{}, err
	}
	var doc schema.NotebookDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return schema.NotebookDocument{}, fmt.Errorf("decode document %s: %w", path, err)
	}
	return doc, nil
}

func writeDocument(stdout io.Writer, path string, doc schema.NotebookDocument) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if path == "" {
		_, err = stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
