// Package imageio writes rendered pixel buffers to image files
package imageio

import (
	"bufio"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	"github.com/df07/go-progressive-pathtracer/pkg/core"
	"github.com/df07/go-progressive-pathtracer/pkg/device"
)

var (
	// ErrUnsupportedFormat is returned for pixel formats that have no
	// 8-bit image representation
	ErrUnsupportedFormat = errors.New("unsupported pixel format")
	// ErrUnknownExtension is returned when a file name has no known image extension
	ErrUnknownExtension = errors.New("unknown image extension")
)

// Kind is an image file encoding
type Kind int

const (
	PNG Kind = iota
	BMP
	TIFF
)

func (k Kind) String() string {
	switch k {
	case PNG:
		return "png"
	case BMP:
		return "bmp"
	case TIFF:
		return "tiff"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// KindFromExt returns the encoding for a file extension, with or without the dot
func KindFromExt(ext string) (Kind, error) {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "png":
		return PNG, nil
	case "bmp":
		return BMP, nil
	case "tif", "tiff":
		return TIFF, nil
	}
	return 0, fmt.Errorf("%q: %w", ext, ErrUnknownExtension)
}

// NewImage wraps raw RGBA8 pixels in an image. Other formats are rejected.
func NewImage(pixels []byte, width, height int, format device.Format) (*image.RGBA, error) {
	if format != device.FormatRGBA8 {
		return nil, fmt.Errorf("%s: %w", format, ErrUnsupportedFormat)
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid image size %dx%d", width, height)
	}
	if need := width * height * 4; len(pixels) < need {
		return nil, fmt.Errorf("pixel buffer has %d bytes, need %d", len(pixels), need)
	}
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	copy(img.Pix, pixels)
	return img, nil
}

// Encode writes img to w
func Encode(w io.Writer, img image.Image, kind Kind) error {
	switch kind {
	case PNG:
		return png.Encode(w, img)
	case BMP:
		return bmp.Encode(w, img)
	case TIFF:
		return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
	default:
		return fmt.Errorf("encode %s: %w", kind, ErrUnknownExtension)
	}
}

// Save writes raw pixels to path, encoded by the file extension. Only
// RGBA8 pixels can be saved; nothing is created when validation fails.
func Save(path string, pixels []byte, width, height int, format device.Format) error {
	kind, err := KindFromExt(filepath.Ext(path))
	if err != nil {
		return err
	}
	img, err := NewImage(pixels, width, height, format)
	if err != nil {
		return err
	}
	return saveImage(path, img, kind)
}

// SaveImage writes img to path, encoded by the file extension
func SaveImage(path string, img image.Image) error {
	kind, err := KindFromExt(filepath.Ext(path))
	if err != nil {
		return err
	}
	return saveImage(path, img, kind)
}

func saveImage(path string, img image.Image, kind Kind) (err error) {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer func() {
		if cerr := file.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(path)
		}
	}()

	bw := bufio.NewWriter(file)
	if err := Encode(bw, img, kind); err != nil {
		return fmt.Errorf("failed to encode %s: %w", kind, err)
	}
	if err := bw.Flush(); err != nil {
		return err
	}

	core.Logger().Info("image saved", "path", path, "kind", kind.String())
	return nil
}
