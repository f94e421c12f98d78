package artifact

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

var (
	// ErrSourceNotFound means the input path or directory is missing or
	// unreadable. Fatal to the whole run.
	ErrSourceNotFound = errors.New("artifact source not found")
	// ErrNoArtifacts means discovery produced zero usable artifacts.
	ErrNoArtifacts = errors.New("no artifacts found")
)

// DiscoverFile resolves a single file into a one-element batch. The file must
// exist and carry an extension recognized for the requested kind.
func DiscoverFile(path string, kind Kind) ([]Descriptor, error) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, path)
	}
	if !extensionAllowed(path, kind) {
		return nil, fmt.Errorf("%w: %s has no recognized %s extension", ErrNoArtifacts, path, kind)
	}
	return []Descriptor{{Path: path, Kind: kind, Title: titleOf(path)}}, nil
}

// DiscoverDir lists the immediate children of dir matching the extension set
// for the requested kind, in directory order. An empty match set is an error.
func DiscoverDir(dir string, kind Kind) ([]Descriptor, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, dir)
	}
	out := make([]Descriptor, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !extensionAllowed(entry.Name(), kind) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		out = append(out, Descriptor{Path: path, Kind: kind, Title: titleOf(path)})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoArtifacts, dir)
	}
	return out, nil
}

// Discover resolves either a file or a directory, whichever path refers to.
func Discover(path string, kind Kind) ([]Descriptor, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, path)
	}
	if info.IsDir() {
		return DiscoverDir(path, kind)
	}
	return DiscoverFile(path, kind)
}

// ValidateBatch splits a base64-text batch into valid and invalid artifacts.
// Image batches pass through untouched; the backends decide what an image is.
func ValidateBatch(descriptors []Descriptor) (valid, invalid []Descriptor) {
	valid = make([]Descriptor, 0, len(descriptors))
	for _, descriptor := range descriptors {
		if descriptor.Kind != KindBase64Text {
			valid = append(valid, descriptor)
			continue
		}
		content, err := ToBase64(descriptor)
		if err != nil || !ValidBase64(content) {
			invalid = append(invalid, descriptor)
			continue
		}
		valid = append(valid, descriptor)
	}
	return valid, invalid
}
