package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/cloo-solutions/homilia/internal/app"
	"github.com/cloo-solutions/homilia/internal/domain"
	"github.com/cloo-solutions/homilia/internal/service"
	"github.com/spf13/cobra"
)

func IngestCmd() *cobra.Command {
	var (
		parishID     string
		documentType string
		metadataJSON string
		filename     string
	)

	cmd := &cobra.Command{
		Use:   "ingest <file>",
		Short: "Ingest a document",
		Long:  "Extract, chunk, embed and index a document file. Use - to read from stdin.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := outputFormat(cmd)
			if err != nil {
				return err
			}

			data, name, err := readInput(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			if filename != "" {
				name = filename
			}

			input := service.IngestFileInput{
				Data:         data,
				Filename:     name,
				ParishID:     parishID,
				DocumentType: documentType,
			}
			if metadataJSON != "" {
				if err := json.Unmarshal([]byte(metadataJSON), &input.Metadata); err != nil {
					return fmt.Errorf("--metadata must be a JSON object: %w", err)
				}
			}

			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				result := a.Ingest.IngestFile(ctx, input)
				if !result.Success() {
					return failureError(result.Failure)
				}
				return printIngest(cmd.OutOrStdout(), format, result)
			})
		},
	}

	cmd.Flags().StringVar(&parishID, "parish", "", "Parish id (required)")
	cmd.Flags().StringVar(&documentType, "type", "", "Document type (default "+service.DefaultDocumentType+")")
	cmd.Flags().StringVar(&metadataJSON, "metadata", "", "Extra metadata as a JSON object")
	cmd.Flags().StringVar(&filename, "filename", "", "Override the stored filename")
	_ = cmd.MarkFlagRequired("parish")
	addOutputFlag(cmd)

	return cmd
}

func readInput(stdin io.Reader, path string) ([]byte, string, error) {
	if path == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, "", fmt.Errorf("failed to read stdin: %w", err)
		}
		return data, "stdin.txt", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, filepath.Base(path), nil
}

func printIngest(w io.Writer, format string, r *service.IngestResult) error {
	if format == outputJSON {
		return printJSON(w, map[string]any{
			"file_id":           r.FileID,
			"filename":          r.Filename,
			"parish_id":         r.ParishID,
			"document_type":     r.DocumentType,
			"chunk_count":       r.ChunkCount,
			"object_key":        r.ObjectKey,
			"extraction_method": r.Extraction.Method,
			"file_type":         r.Extraction.FileType,
			"file_size":         r.Extraction.FileSize,
			"created_at":        r.CreatedAt.UTC().Format(time.RFC3339),
			"warnings":          failureMessages(r.Diagnostics),
		})
	}

	fmt.Fprintf(w, "Ingested %s as %s (%d chunks)\n", r.Filename, r.FileID, r.ChunkCount)
	if r.ObjectKey != "" {
		fmt.Fprintf(w, "Backup: %s\n", r.ObjectKey)
	}
	printDiagnostics(w, r.Diagnostics)
	return nil
}

func DeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <file_id>",
		Short: "Delete a document",
		Long:  "Delete every index entry and backup object of a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := outputFormat(cmd)
			if err != nil {
				return err
			}

			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				result := a.Deletion.Delete(ctx, args[0])
				if !result.Success() {
					return failureError(result.Failure)
				}

				w := cmd.OutOrStdout()
				if format == outputJSON {
					if err := printJSON(w, map[string]any{
						"file_id":         result.FileID,
						"found_chunks":    result.FoundChunks,
						"deleted_chunks":  result.DeletedChunks,
						"found_objects":   result.FoundObjects,
						"deleted_objects": result.DeletedObjects,
						"errors":          failureMessages(result.Errors),
					}); err != nil {
						return err
					}
				} else {
					fmt.Fprintf(w, "Deleted %d/%d chunks and %d/%d objects for %s\n",
						result.DeletedChunks, result.FoundChunks, result.DeletedObjects, result.FoundObjects, result.FileID)
					printDiagnostics(w, result.Errors)
				}

				if !result.Complete() {
					return fmt.Errorf("deletion of %s incomplete", result.FileID)
				}
				return nil
			})
		},
	}
	addOutputFlag(cmd)
	return cmd
}

func InfoCmd() *cobra.Command {
	var showText bool

	cmd := &cobra.Command{
		Use:   "info <file_id>",
		Short: "Show a document summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := outputFormat(cmd)
			if err != nil {
				return err
			}

			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				var (
					doc  *domain.Document
					text string
				)
				if showText {
					dt, err := a.Documents.GetDocumentText(ctx, args[0])
					if err != nil {
						return err
					}
					doc, text = dt.Document, dt.Text
				} else {
					doc, err = a.Documents.GetDocument(ctx, args[0])
					if err != nil {
						return err
					}
				}
				return printDocument(cmd.OutOrStdout(), format, doc, text)
			})
		},
	}

	cmd.Flags().BoolVar(&showText, "text", false, "Also print the backup text")
	addOutputFlag(cmd)
	return cmd
}

func printDocument(w io.Writer, format string, doc *domain.Document, text string) error {
	if format == outputJSON {
		out := map[string]any{
			"file_id":           doc.FileID,
			"filename":          doc.Filename,
			"source":            doc.Source,
			"parish_id":         doc.ParishID,
			"document_type":     doc.DocumentType,
			"object_key":        doc.ObjectKey,
			"extraction_method": doc.ExtractionMethod,
			"file_type":         doc.FileType,
			"file_size":         doc.FileSize,
			"chunk_count":       doc.ChunkCount,
			"created_at":        doc.CreatedAt.UTC().Format(time.RFC3339),
			"metadata":          doc.Metadata,
		}
		if text != "" {
			out["text"] = text
		}
		return printJSON(w, out)
	}

	fmt.Fprintf(w, "File ID:    %s\n", doc.FileID)
	fmt.Fprintf(w, "Filename:   %s\n", doc.Filename)
	fmt.Fprintf(w, "Source:     %s\n", doc.Source)
	fmt.Fprintf(w, "Type:       %s (%s, %d bytes)\n", doc.DocumentType, doc.FileType, doc.FileSize)
	fmt.Fprintf(w, "Chunks:     %d\n", doc.ChunkCount)
	fmt.Fprintf(w, "Created:    %s\n", doc.CreatedAt.UTC().Format(time.RFC3339))
	if doc.ObjectKey != "" {
		fmt.Fprintf(w, "Backup:     %s\n", doc.ObjectKey)
	}
	if text != "" {
		fmt.Fprintf(w, "\n%s\n", text)
	}
	return nil
}

func failureMessages(failures []*domain.Failure) []string {
	out := make([]string, 0, len(failures))
	for _, f := range failures {
		out = append(out, fmt.Sprintf("%s: %s", f.Stage, f.Message))
	}
	return out
}
