package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"liveness-eval/internal/eval"
)

// Assembler renders the aggregated row set as a Markdown table. Column set is
// fixed metadata columns plus one diagnostic column per enabled backend, in
// backend order.
type Assembler struct {
	OutputPath  string
	ImageWidth  int
	ImageHeight int
}

func NewAssembler(outputPath string) *Assembler {
	return &Assembler{
		OutputPath:  outputPath,
		ImageWidth:  120,
		ImageHeight: 160,
	}
}

// Render builds the Markdown table for rows. backends fixes the diagnostic
// column order; rows are assumed pre-sorted by the orchestrator.
func (a *Assembler) Render(rows []eval.Row, backends []string) string {
	if len(rows) == 0 {
		return ""
	}

	columns := []string{"Title", "Photo", "Resolution", "Size"}
	withQuality := hasQuality(rows)
	if withQuality {
		columns = append(columns, "JPEG Quality")
	}
	for _, backend := range backends {
		columns = append(columns, "Diagnostic "+backend)
	}

	var b strings.Builder
	b.WriteString("| " + strings.Join(columns, " | ") + " |\n")
	separators := make([]string, len(columns))
	for i, column := range columns {
		separators[i] = strings.Repeat("-", len(column))
	}
	b.WriteString("| " + strings.Join(separators, " | ") + " |\n")

	for _, row := range rows {
		cells := []string{
			row.Title,
			fmt.Sprintf(`<img src=%q width="%d" height="%d" alt="Photo">`, row.ImagePath, a.ImageWidth, a.ImageHeight),
			row.Resolution,
			row.Size,
		}
		if withQuality {
			quality := row.Quality
			if quality == "" {
				quality = "N/A"
			}
			cells = append(cells, quality)
		}
		for _, backend := range backends {
			diagnostic, ok := row.Diagnostics[backend]
			if !ok {
				diagnostic = "N/A"
			}
			cells = append(cells, diagnostic)
		}
		b.WriteString("| " + strings.Join(cells, " | ") + " |\n")
	}
	return b.String()
}

// hasQuality reports whether the run carried JPEG quality analysis. The
// orchestrator fills the field for every row when the analyzer is enabled, so
// any non-empty value means the column belongs in the table.
func hasQuality(rows []eval.Row) bool {
	for _, row := range rows {
		if row.Quality != "" {
			return true
		}
	}
	return false
}

// WriteMarkdown renders rows and writes the report to the assembler's output
// path, creating the parent directory when needed.
func (a *Assembler) WriteMarkdown(rows []eval.Row, backends []string) (string, error) {
	content := a.Render(rows, backends)
	dir := filepath.Dir(a.OutputPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create report directory: %w", err)
	}
	if err := os.WriteFile(a.OutputPath, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return content, nil
}
