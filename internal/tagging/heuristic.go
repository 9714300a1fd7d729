package tagging

import (
	"context"
	"path/filepath"
	"strconv"
	"strings"
	"unicode"
)

// Heuristic confidence per evidence source. Metadata-backed sources
// rank above guesses from the directory layout.
const (
	confMediaKind = 0.95
	confCamera    = 0.8
	confYear      = 0.7
	confFolder    = 0.5
)

// pathStopwords are directory names too generic to make useful tags:
// library roots, mount points, and export folders.
var pathStopwords = map[string]bool{
	"home": true, "users": true, "user": true, "root": true,
	"mnt": true, "srv": true, "var": true, "tmp": true, "data": true,
	"media": true, "volumes": true, "backup": true, "backups": true,
	"photos": true, "photo": true, "pictures": true, "picture": true,
	"images": true, "image": true, "videos": true, "video": true,
	"dcim": true, "downloads": true, "desktop": true, "documents": true,
	"library": true, "export": true, "exports": true, "originals": true,
	"untitled": true, "new": true, "misc": true,
}

// Heuristic tags images from metadata already in the catalog: the file
// type, the camera make, the capture year, and the words in the file's
// directory path. It never opens the file.
type Heuristic struct{}

// NewHeuristic returns the built-in metadata tagger.
func NewHeuristic() *Heuristic {
	return &Heuristic{}
}

func (h *Heuristic) Name() string {
	return "heuristic"
}

// Tag derives tags in a fixed source order so identical inputs always
// produce identical output. A name produced by several sources keeps
// its highest confidence.
func (h *Heuristic) Tag(ctx context.Context, path string, meta ImageMeta) ([]Result, error) {
	var out []Result
	seen := map[string]int{}

	add := func(name, category string, confidence float64) {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			return
		}
		if i, ok := seen[name]; ok {
			if confidence > out[i].Confidence {
				out[i].Confidence = confidence
				out[i].Category = category
			}
			return
		}
		seen[name] = len(out)
		out = append(out, Result{Name: name, Category: category, Confidence: confidence})
	}

	switch meta.FileType {
	case "image":
		add("photo", "media", confMediaKind)
	case "video":
		add("video", "media", confMediaKind)
	}
	if meta.CameraMake != "" {
		add(meta.CameraMake, "camera", confCamera)
	}
	if meta.CapturedAt != nil {
		add(strconv.Itoa(meta.CapturedAt.Year()), "date", confYear)
	}
	for _, token := range pathTokens(path) {
		add(token, "folder", confFolder)
	}
	return out, nil
}

// pathTokens extracts candidate tag words from the directory part of a
// path: lowercase alphabetic runs of three letters or more, minus
// stopwords, in path order without repeats.
func pathTokens(path string) []string {
	dir := filepath.Dir(path)
	if dir == "." || dir == string(filepath.Separator) {
		return nil
	}

	var tokens []string
	seen := map[string]bool{}
	for _, part := range strings.Split(dir, string(filepath.Separator)) {
		words := strings.FieldsFunc(strings.ToLower(part), func(r rune) bool {
			return !unicode.IsLetter(r)
		})
		for _, w := range words {
			if len(w) < 3 || pathStopwords[w] || seen[w] {
				continue
			}
			seen[w] = true
			tokens = append(tokens, w)
		}
	}
	return tokens
}
