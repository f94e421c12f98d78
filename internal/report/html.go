package report

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

var markdownRenderer = goldmark.New(
	goldmark.WithExtensions(extension.Table),
	goldmark.WithRendererOptions(html.WithUnsafe()),
)

const htmlPage = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>%s</title>
<style>
body { font-family: sans-serif; margin: 2em; }
table { border-collapse: collapse; }
th, td { border: 1px solid #ccc; padding: 6px 10px; text-align: left; }
th { background: #f2f2f2; }
</style>
</head>
<body>
%s</body>
</html>
`

// WriteHTML converts a Markdown report into a standalone HTML page next to
// it, returning the HTML path. The table uses raw img cells, so the renderer
// runs with raw HTML passthrough enabled.
func WriteHTML(markdownPath, markdown string) (string, error) {
	var body bytes.Buffer
	if err := markdownRenderer.Convert([]byte(markdown), &body); err != nil {
		return "", fmt.Errorf("render HTML report: %w", err)
	}
	title := strings.TrimSuffix(filepath.Base(markdownPath), filepath.Ext(markdownPath))
	page := fmt.Sprintf(htmlPage, title, body.String())
	htmlPath := strings.TrimSuffix(markdownPath, filepath.Ext(markdownPath)) + ".html"
	if err := os.WriteFile(htmlPath, []byte(page), 0o644); err != nil {
		return "", fmt.Errorf("write HTML report: %w", err)
	}
	return htmlPath, nil
}
