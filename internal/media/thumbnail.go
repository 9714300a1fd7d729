package media

import (
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"

	"github.com/nfnt/resize"
)

// Thumbnailer writes JPEG thumbnails for catalog images
type Thumbnailer struct {
	dir     string
	sizePx  int
	quality int
}

// NewThumbnailer creates a thumbnailer targeting dir. Thumbnails fit
// inside a sizePx square with aspect ratio preserved.
func NewThumbnailer(dir string, sizePx, quality int) *Thumbnailer {
	if sizePx <= 0 {
		sizePx = 256
	}
	if quality <= 0 || quality > 100 {
		quality = 85
	}
	return &Thumbnailer{dir: dir, sizePx: sizePx, quality: quality}
}

// Generate decodes sourcePath and writes <dir>/<imageID>.jpg, returning
// the thumbnail path. Images already smaller than the target are
// re-encoded at original size rather than upscaled.
func (t *Thumbnailer) Generate(sourcePath, imageID string) (string, error) {
	img, err := DecodeImage(sourcePath)
	if err != nil {
		return "", err
	}
	return t.write(Downscale(img, t.sizePx), imageID)
}

// GenerateFrom writes a thumbnail for an already decoded image
func (t *Thumbnailer) GenerateFrom(img image.Image, imageID string) (string, error) {
	return t.write(Downscale(img, t.sizePx), imageID)
}

func (t *Thumbnailer) write(img image.Image, imageID string) (string, error) {
	if err := os.MkdirAll(t.dir, 0o755); err != nil {
		return "", fmt.Errorf("thumbnail dir: %w", err)
	}

	outPath := filepath.Join(t.dir, imageID+".jpg")
	f, err := os.Create(outPath)
	if err != nil {
		return "", fmt.Errorf("thumbnail %s: %w", imageID, err)
	}
	defer f.Close()

	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: t.quality}); err != nil {
		os.Remove(outPath)
		return "", fmt.Errorf("thumbnail %s: %w", imageID, err)
	}
	return outPath, nil
}

// Downscale shrinks img so its longest side is at most maxSide,
// preserving aspect ratio. Smaller images pass through untouched.
func Downscale(img image.Image, maxSide int) image.Image {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= maxSide && h <= maxSide {
		return img
	}
	if w >= h {
		return resize.Resize(uint(maxSide), 0, img, resize.Lanczos3)
	}
	return resize.Resize(0, uint(maxSide), img, resize.Lanczos3)
}
