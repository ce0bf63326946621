package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/simsync/internal/core"
	"github.com/JonMunkholm/simsync/internal/ingest"
	"github.com/JonMunkholm/simsync/internal/sheet"
)

type ingestFlags struct {
	plant    string
	workbook string
	source   string
	fileKind string
	commit   bool
}

func (c *cli) ingestCmd() *cobra.Command {
	var f ingestFlags
	cmd := &cobra.Command{
		Use:   "ingest <file>",
		Short: "Preview an import, or commit it with --commit",
		Long: `Reads a workbook (.xlsx, .xlsm) or delimited file (.csv, .tsv, .txt),
matches its columns to registry fields and prints the resulting diff.
Nothing is written unless --commit is given or the registry is empty.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runIngest(cmd, args[0], f)
		},
	}
	cmd.Flags().StringVar(&f.plant, "plant", "", "plant key for rows without a plant column")
	cmd.Flags().StringVar(&f.workbook, "workbook", "", "workbook id for mapping overrides (default: file name)")
	cmd.Flags().StringVar(&f.source, "source", string(ingest.SourceLocal), "source kind: Local, MS365, SimBridge or Demo")
	cmd.Flags().StringVar(&f.fileKind, "file-kind", "", "force the file kind instead of detecting it")
	cmd.Flags().BoolVar(&f.commit, "commit", false, "commit the plan after previewing it")
	return cmd
}

func (c *cli) runIngest(cmd *cobra.Command, path string, f ingestFlags) error {
	ctx := cmd.Context()
	batch, err := readBatch(path, c.cfg.Ingest.MaxFileSize, f)
	if err != nil {
		return err
	}

	res, err := c.app.Service.Ingest(ctx, batch)
	if err != nil {
		return err
	}
	if res.State == core.StatePreview && f.commit {
		if res, err = c.app.Service.Confirm(ctx, res.PlanID); err != nil {
			return err
		}
	} else if res.State == core.StatePreview {
		// Plans do not outlive this process.
		_ = c.app.Service.Cancel(ctx, res.PlanID)
	}

	out := cmd.OutOrStdout()
	if c.asJSON {
		return printJSON(out, res)
	}
	return printResult(out, res)
}

func readBatch(path string, maxSize int64, f ingestFlags) (ingest.Batch, error) {
	file, err := os.Open(path)
	if err != nil {
		return ingest.Batch{}, err
	}
	defer file.Close()

	name := filepath.Base(path)
	sheets, err := sheet.Read(name, file, sheet.Options{MaxBytes: maxSize})
	if err != nil {
		return ingest.Batch{}, fmt.Errorf("read %s: %w", path, err)
	}

	workbook := f.workbook
	if workbook == "" {
		workbook = name
	}
	return ingest.Batch{
		WorkbookID: workbook,
		FileName:   name,
		SourceKind: ingest.SourceKind(f.source),
		PlantKey:   strings.TrimSpace(f.plant),
		FileKind:   f.fileKind,
		Sheets:     sheets,
	}, nil
}

func printResult(w io.Writer, res *core.IngestionResult) error {
	s := res.Diff.Summary
	fmt.Fprintf(w, "state:     %s\n", res.State)
	fmt.Fprintf(w, "version:   %d\n", res.Version)
	fmt.Fprintf(w, "created:   %d\n", s.Created)
	fmt.Fprintf(w, "updated:   %d\n", s.Updated)
	fmt.Fprintf(w, "deleted:   %d\n", s.Deleted)
	fmt.Fprintf(w, "renamed:   %d\n", s.Renamed)
	fmt.Fprintf(w, "ambiguous: %d\n", s.Ambiguous)

	if len(res.Diff.RenamesOrMoves) > 0 {
		fmt.Fprintln(w, "\nrenames:")
		rows := [][]string{{"UID", "FROM", "TO", "SCORE"}}
		for _, r := range res.Diff.RenamesOrMoves {
			rows = append(rows, []string{r.UID, r.OldKey, r.NewKey, fmt.Sprintf("%.0f", r.Confidence)})
		}
		if err := table(w, rows); err != nil {
			return err
		}
	}
	if len(res.Diff.Ambiguous) > 0 {
		fmt.Fprintln(w, "\nambiguous (add an alias to resolve):")
		rows := [][]string{{"KEY", "TYPE", "CANDIDATES"}}
		for _, a := range res.Diff.Ambiguous {
			uids := make([]string, 0, len(a.Candidates))
			for _, m := range a.Candidates {
				uids = append(uids, fmt.Sprintf("%s (%.0f)", m.UID, m.MatchScore))
			}
			rows = append(rows, []string{a.NewKey, string(a.EntityType), strings.Join(uids, ", ")})
		}
		if err := table(w, rows); err != nil {
			return err
		}
	}
	if len(res.Warnings) > 0 {
		fmt.Fprintf(w, "\nwarnings (%d):\n", len(res.Warnings))
		for _, wn := range res.Warnings {
			fmt.Fprintf(w, "  %s %s: %s\n", wn.Kind, location(wn), wn.Message)
		}
	}
	return nil
}

func location(w ingest.IngestionWarning) string {
	switch {
	case w.SheetName != "" && w.RowIndex > 0:
		return fmt.Sprintf("%s row %d", w.SheetName, w.RowIndex)
	case w.SheetName != "":
		return w.SheetName
	}
	return w.FileName
}
