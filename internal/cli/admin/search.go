package admin

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cloo-solutions/homilia/internal/app"
	"github.com/cloo-solutions/homilia/internal/service"
	"github.com/spf13/cobra"
)

func SearchCmd() *cobra.Command {
	var (
		parishID     string
		documentType string
		k            int
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Semantic search over indexed documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := outputFormat(cmd)
			if err != nil {
				return err
			}

			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				result := a.Retrieval.Search(ctx, service.SearchInput{
					Query:        strings.Join(args, " "),
					ParishID:     parishID,
					DocumentType: documentType,
					K:            k,
				})
				if !result.Success() {
					return failureError(result.Failure)
				}
				return printSearch(cmd.OutOrStdout(), format, result)
			})
		},
	}

	cmd.Flags().StringVar(&parishID, "parish", "", "Only search this parish")
	cmd.Flags().StringVar(&documentType, "type", "", "Only search this document type")
	cmd.Flags().IntVarP(&k, "limit", "k", service.DefaultSearchK, "Number of chunks to retrieve")
	addOutputFlag(cmd)

	return cmd
}

func printSearch(w io.Writer, format string, r *service.SearchResult) error {
	if format == outputJSON {
		docs := make([]map[string]any, 0, len(r.Documents))
		for _, d := range r.Documents {
			chunks := make([]map[string]any, 0, len(d.Chunks))
			for _, c := range d.Chunks {
				chunks = append(chunks, map[string]any{
					"id":          c.ID,
					"text":        c.Text,
					"score":       c.Score,
					"chunk_index": c.ChunkIndex,
				})
			}
			docs = append(docs, map[string]any{
				"file_id":   d.FileID,
				"filename":  d.Filename,
				"source":    d.Source,
				"metadata":  d.Metadata,
				"max_score": d.MaxScore,
				"chunks":    chunks,
			})
		}
		return printJSON(w, map[string]any{
			"query":        r.Query,
			"documents":    docs,
			"total_files":  r.TotalFiles,
			"total_chunks": r.TotalChunks,
		})
	}

	if len(r.Documents) == 0 {
		fmt.Fprintln(w, "No results found.")
		return nil
	}

	fmt.Fprintf(w, "%d chunks from %d documents\n\n", r.TotalChunks, r.TotalFiles)
	for i, d := range r.Documents {
		fmt.Fprintf(w, "%d. %s [%s] score=%.3f\n", i+1, d.Filename, d.FileID, d.MaxScore)
		for _, c := range d.Chunks {
			fmt.Fprintf(w, "   #%d (%.3f) %s\n", c.ChunkIndex, c.Score, preview(c.Text, 120))
		}
	}
	return nil
}

func ByDateCmd() *cobra.Command {
	var (
		endDate      string
		parishID     string
		documentType string
		limit        int
	)

	cmd := &cobra.Command{
		Use:   "by-date <start_date>",
		Short: "List documents created in a date range",
		Long:  "List documents created between start_date and --end (inclusive, YYYY-MM-DD, UTC)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := outputFormat(cmd)
			if err != nil {
				return err
			}

			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				result := a.Retrieval.ByDateRange(ctx, service.DateRangeInput{
					StartDate:    args[0],
					EndDate:      endDate,
					ParishID:     parishID,
					DocumentType: documentType,
					Limit:        limit,
				})
				if !result.Success() {
					return failureError(result.Failure)
				}
				return printDateRange(cmd.OutOrStdout(), format, result)
			})
		},
	}

	cmd.Flags().StringVar(&endDate, "end", "", "End date, defaults to the start date")
	cmd.Flags().StringVar(&parishID, "parish", "", "Only list this parish")
	cmd.Flags().StringVar(&documentType, "type", "", "Only list this document type")
	cmd.Flags().IntVar(&limit, "limit", service.DefaultDateLimit, "Maximum chunks to scan")
	addOutputFlag(cmd)

	return cmd
}

func printDateRange(w io.Writer, format string, r *service.DateRangeResult) error {
	if format == outputJSON {
		docs := make([]map[string]any, 0, len(r.Documents))
		for _, d := range r.Documents {
			docs = append(docs, map[string]any{
				"file_id":    d.FileID,
				"filename":   d.Filename,
				"source":     d.Source,
				"metadata":   d.Metadata,
				"created_at": d.CreatedAt.UTC().Format(time.RFC3339),
			})
		}
		return printJSON(w, map[string]any{
			"start_date":      r.StartDate,
			"end_date":        r.EndDate,
			"documents":       docs,
			"total_documents": r.TotalDocuments,
			"total_chunks":    r.TotalChunks,
		})
	}

	if len(r.Documents) == 0 {
		fmt.Fprintf(w, "No documents between %s and %s.\n", r.StartDate, r.EndDate)
		return nil
	}
	for _, d := range r.Documents {
		fmt.Fprintf(w, "%s  %-36s  %s (%s)\n", d.CreatedAt.UTC().Format(time.RFC3339), d.FileID, d.Filename, d.Source)
	}
	fmt.Fprintf(w, "\n%d documents, %d chunks\n", r.TotalDocuments, r.TotalChunks)
	return nil
}

func CiteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cite [text]",
		Short: "Rewrite citation markers into numbered links",
		Long:  "Rewrite citation markers in an answer. Reads stdin when no text is given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			if len(args) == 0 {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("failed to read stdin: %w", err)
				}
				text = string(data)
			}

			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				result := a.Citations.Resolve(ctx, text)
				fmt.Fprintln(cmd.OutOrStdout(), result.Text)
				return nil
			})
		},
	}
}

func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
