package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const TempImagesDirName = "temp_images"

// DatedDir creates and returns a YYYY-MM-DD subdirectory under baseDir.
func DatedDir(baseDir string) (string, error) {
	dir := filepath.Join(baseDir, time.Now().Format("2006-01-02"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create dated report directory: %w", err)
	}
	return dir, nil
}

// UniquePath returns a path in dir for baseName+ext that does not collide
// with an existing file, appending _01.._99 when needed.
func UniquePath(dir, baseName, ext string) (string, error) {
	candidate := filepath.Join(dir, baseName+ext)
	if _, err := os.Stat(candidate); os.IsNotExist(err) {
		return candidate, nil
	}
	for counter := 1; counter <= 99; counter++ {
		candidate = filepath.Join(dir, fmt.Sprintf("%s_%02d%s", baseName, counter, ext))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("too many reports named %s in %s", baseName, dir)
}

// ResolveOutputPath places the requested report under a dated subdirectory
// with a collision-free name, and ensures the sibling temp image directory
// exists. Returns (reportPath, tempImageDir).
func ResolveOutputPath(requested string) (string, string, error) {
	baseDir := filepath.Dir(requested)
	if baseDir == "." || baseDir == "" {
		baseDir = "reports"
	}
	name := filepath.Base(requested)
	if name == "." || name == string(filepath.Separator) {
		name = ""
	}
	ext := filepath.Ext(name)
	if ext == "" {
		ext = ".md"
	}
	baseName := strings.TrimSuffix(name, ext)
	if baseName == "" {
		baseName = "liveness_report"
	}

	dated, err := DatedDir(baseDir)
	if err != nil {
		return "", "", err
	}
	reportPath, err := UniquePath(dated, baseName, ext)
	if err != nil {
		return "", "", err
	}
	imageDir := filepath.Join(dated, TempImagesDirName)
	if err := os.MkdirAll(imageDir, 0o755); err != nil {
		return "", "", fmt.Errorf("create temp image directory: %w", err)
	}
	return reportPath, imageDir, nil
}
