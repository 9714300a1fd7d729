// Package media handles file classification, checksums, decoding, EXIF
// probing, and thumbnail generation for catalog content.
package media

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// File types recorded on image rows
const (
	TypeImage = "image"
	TypeVideo = "video"
)

var videoExtensions = map[string]struct{}{
	".mp4": {}, ".mov": {}, ".avi": {}, ".mkv": {},
	".m4v": {}, ".wmv": {}, ".webm": {},
}

var imageExtensions = map[string]struct{}{
	".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {},
	".heic": {}, ".heif": {}, ".webp": {}, ".bmp": {},
	".tiff": {}, ".tif": {},
	// RAW formats
	".raw": {}, ".cr2": {}, ".cr3": {}, ".nef": {},
	".arw": {}, ".dng": {}, ".orf": {}, ".rw2": {},
}

// Classify reports the media type of a path by extension,
// case-insensitively. The second return is false for non-media files.
func Classify(path string) (string, bool) {
	ext := strings.ToLower(filepath.Ext(path))
	if _, ok := videoExtensions[ext]; ok {
		return TypeVideo, true
	}
	if _, ok := imageExtensions[ext]; ok {
		return TypeImage, true
	}
	return "", false
}

// IsMedia reports whether the path has a recognized media extension
func IsMedia(path string) bool {
	_, ok := Classify(path)
	return ok
}

// Checksum computes the SHA-256 of a file as lowercase hex
func Checksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("checksum %s: %w", path, err)
	}
	defer f.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", fmt.Errorf("checksum %s: %w", path, err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}
