package artifact

import (
	"path/filepath"
	"strings"
)

// Kind distinguishes raw image files from text files carrying a
// base64-encoded image.
type Kind string

const (
	KindImage      Kind = "image"
	KindBase64Text Kind = "base64_text"
)

// Sentinel value used wherever metadata or a report image could not be
// produced for an artifact.
const Unavailable = "N/A"

// Descriptor identifies one artifact of a batch. Title is the base filename
// without extension and is the sort key for the final report.
type Descriptor struct {
	Path  string
	Kind  Kind
	Title string
}

var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".bmp":  true,
	".tiff": true,
}

var textExtensions = map[string]bool{
	".txt": true,
}

func extensionAllowed(path string, kind Kind) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if kind == KindBase64Text {
		return textExtensions[ext]
	}
	return imageExtensions[ext]
}

func titleOf(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
