package extract

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/jdeng/goheif"
)

// Image is an image ready to be sent to a vision model.
type Image struct {
	Path     string
	MIMEType string
	Data     []byte
	Width    int
	Height   int
}

// LoadImage reads path and checks that it decodes as an image. HEIC/HEIF
// files are re-encoded as JPEG because the API does not accept them from all
// models; other formats are sent as-is.
func LoadImage(path string) (Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Image{}, fmt.Errorf("read image: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".heic" || ext == ".heif" {
		img, err := goheif.Decode(bytes.NewReader(data))
		if err != nil {
			return Image{}, fmt.Errorf("decode heic: %w", err)
		}
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
			return Image{}, fmt.Errorf("encode jpeg: %w", err)
		}
		b := img.Bounds()
		return Image{Path: path, MIMEType: "image/jpeg", Data: buf.Bytes(), Width: b.Dx(), Height: b.Dy()}, nil
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Image{}, fmt.Errorf("decode image: %w", err)
	}
	mt := "image/" + format
	if format == "" {
		mt = http.DetectContentType(data)
	}
	return Image{Path: path, MIMEType: mt, Data: data, Width: cfg.Width, Height: cfg.Height}, nil
}
