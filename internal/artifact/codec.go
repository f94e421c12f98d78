package artifact

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"

	// Decoder registrations for every extension the source accepts, plus
	// GIF/WebP which only ever arrive inside base64 payloads.
	_ "image/gif"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Metadata is the renderable artifact metadata used by the report.
type Metadata struct {
	Resolution string
	Size       string
}

const (
	// Minimum decoded payload size for a plausible image.
	minDecodedBytes = 100
	// JPEG quality for report images re-encoded from base64 payloads.
	reportJPEGQuality = 85
)

var imageMagics = [][]byte{
	{0xFF, 0xD8, 0xFF},       // JPEG
	{0x89, 0x50, 0x4E, 0x47}, // PNG
	{0x47, 0x49, 0x46},       // GIF
	{0x42, 0x4D},             // BMP
	[]byte("RIFF"),           // WebP container
}

// ToBase64 normalizes any artifact into a base64 payload. Image files are
// read and encoded; text files are assumed to already hold base64, with an
// optional data-URL prefix stripped.
func ToBase64(descriptor Descriptor) (string, error) {
	data, err := os.ReadFile(descriptor.Path)
	if err != nil {
		return "", fmt.Errorf("read artifact %s: %w", descriptor.Path, err)
	}
	if descriptor.Kind == KindImage {
		return base64.StdEncoding.EncodeToString(data), nil
	}
	content := strings.TrimSpace(string(data))
	if strings.HasPrefix(content, "data:") {
		if comma := strings.Index(content, ","); comma != -1 {
			content = content[comma+1:]
		}
	}
	return content, nil
}

// ValidBase64 reports whether content is a strict base64 encoding of a
// plausible image: length a multiple of 4, at least 100 decoded bytes, and
// either a recognized magic sequence or a payload the image decoders accept.
func ValidBase64(content string) bool {
	cleaned := cleanBase64(content)
	if len(cleaned)%4 != 0 {
		return false
	}
	decoded, err := base64.StdEncoding.Strict().DecodeString(cleaned)
	if err != nil {
		return false
	}
	if len(decoded) < minDecodedBytes {
		return false
	}
	for _, magic := range imageMagics {
		if bytes.HasPrefix(decoded, magic) {
			return true
		}
	}
	_, _, err = image.DecodeConfig(bytes.NewReader(decoded))
	return err == nil
}

// DecodeBase64 returns the raw payload bytes of a base64 string, tolerating
// embedded whitespace.
func DecodeBase64(content string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(cleanBase64(content))
}

// ReadMetadata reads pixel dimensions and byte size for an artifact. Size is the
// source file length for images and the decoded payload length for base64
// text. Any decode failure yields the "N/A" sentinel pair, never an error.
func ReadMetadata(descriptor Descriptor) Metadata {
	unavailable := Metadata{Resolution: Unavailable, Size: Unavailable}

	if descriptor.Kind == KindImage {
		file, err := os.Open(descriptor.Path)
		if err != nil {
			return unavailable
		}
		defer file.Close()
		config, _, err := image.DecodeConfig(file)
		if err != nil {
			return unavailable
		}
		info, err := os.Stat(descriptor.Path)
		if err != nil {
			return unavailable
		}
		return Metadata{
			Resolution: fmt.Sprintf("%d x %d", config.Width, config.Height),
			Size:       kilobytes(info.Size()),
		}
	}

	content, err := ToBase64(descriptor)
	if err != nil {
		return unavailable
	}
	decoded, err := DecodeBase64(content)
	if err != nil {
		return unavailable
	}
	config, _, err := image.DecodeConfig(bytes.NewReader(decoded))
	if err != nil {
		return unavailable
	}
	return Metadata{
		Resolution: fmt.Sprintf("%d x %d", config.Width, config.Height),
		Size:       kilobytes(int64(len(decoded))),
	}
}

// MaterializeForReport places a renderable copy of the artifact under
// destDir and returns its path relative to the report location. Image files
// are byte-copied under their original name; base64 payloads are decoded and
// re-encoded as JPEG. Failure yields the "N/A" sentinel, never an error.
func MaterializeForReport(descriptor Descriptor, destDir string) string {
	if descriptor.Kind == KindImage {
		name := filepath.Base(descriptor.Path)
		data, err := os.ReadFile(descriptor.Path)
		if err != nil {
			return Unavailable
		}
		if err := os.WriteFile(filepath.Join(destDir, name), data, 0o644); err != nil {
			return Unavailable
		}
		return filepath.Join(filepath.Base(destDir), name)
	}

	content, err := ToBase64(descriptor)
	if err != nil {
		return Unavailable
	}
	decoded, err := DecodeBase64(content)
	if err != nil {
		return Unavailable
	}
	img, _, err := image.Decode(bytes.NewReader(decoded))
	if err != nil {
		return Unavailable
	}
	name := descriptor.Title + ".jpg"
	out, err := os.Create(filepath.Join(destDir, name))
	if err != nil {
		return Unavailable
	}
	defer out.Close()
	// jpeg.Encode flattens any source color model to YCbCr, which covers the
	// RGB conversion the report needs.
	if err := jpeg.Encode(out, img, &jpeg.Options{Quality: reportJPEGQuality}); err != nil {
		return Unavailable
	}
	return filepath.Join(filepath.Base(destDir), name)
}

func kilobytes(size int64) string {
	return fmt.Sprintf("%.0f KB", float64(size)/1024)
}

func cleanBase64(content string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', ' ', '\t':
			return -1
		}
		return r
	}, content)
}
