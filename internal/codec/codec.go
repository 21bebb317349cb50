// Package codec reads and writes images through ImageMagick.
package codec

import (
	"fmt"
	"image"
	"path/filepath"
	"strings"

	"gopkg.in/gographics/imagick.v3/imagick"
)

const jpegQuality = 95

var formats = map[string]string{
	".jpg":  "JPEG",
	".jpeg": "JPEG",
	".png":  "PNG",
	".bmp":  "BMP",
	".tiff": "TIFF",
	".tif":  "TIFF",
	".webp": "WEBP",
}

// FormatFor returns the ImageMagick format name for the file extension of path.
func FormatFor(path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	format, ok := formats[ext]
	if !ok {
		return "", fmt.Errorf("unsupported image extension %q", ext)
	}
	return format, nil
}

// Magick decodes and encodes 8-bit RGB images. It owns the ImageMagick
// environment between NewMagick and Close.
type Magick struct{}

// NewMagick initializes ImageMagick.
func NewMagick() *Magick {
	imagick.Initialize()
	return &Magick{}
}

// Close terminates ImageMagick; no wand may be used afterwards.
func (m *Magick) Close() {
	imagick.Terminate()
}

// Version reports the linked ImageMagick release.
func (m *Magick) Version() string {
	v, _ := imagick.GetVersion()
	return v
}

// Decode reads the first frame of path as 3-channel colour. Alpha is
// discarded and EXIF orientation applied.
func (m *Magick) Decode(path string) (*image.RGBA, error) {
	mw := imagick.NewMagickWand()
	defer mw.Destroy()

	if err := mw.ReadImage(path); err != nil {
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	mw.SetFirstIterator()

	if err := mw.AutoOrientImage(); err != nil {
		return nil, fmt.Errorf("orient %s: %w", filepath.Base(path), err)
	}
	if err := mw.TransformImageColorspace(imagick.COLORSPACE_SRGB); err != nil {
		return nil, fmt.Errorf("colorspace %s: %w", filepath.Base(path), err)
	}

	w, h := mw.GetImageWidth(), mw.GetImageHeight()
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("read %s: empty image", filepath.Base(path))
	}

	raw, err := mw.ExportImagePixels(0, 0, w, h, "RGB", imagick.PIXEL_CHAR)
	if err != nil {
		return nil, fmt.Errorf("export %s: %w", filepath.Base(path), err)
	}
	pixels, ok := raw.([]byte)
	if !ok || len(pixels) != int(w*h*3) {
		return nil, fmt.Errorf("export %s: unexpected pixel buffer", filepath.Base(path))
	}
	return fromRGB(pixels, int(w), int(h)), nil
}

// Encode writes img to path in the format implied by its extension.
func (m *Magick) Encode(path string, img *image.RGBA) error {
	format, err := FormatFor(path)
	if err != nil {
		return err
	}
	b := img.Bounds()
	if b.Empty() {
		return fmt.Errorf("write %s: empty image", filepath.Base(path))
	}

	mw := imagick.NewMagickWand()
	defer mw.Destroy()
	bg := imagick.NewPixelWand()
	defer bg.Destroy()
	bg.SetColor("black")

	w, h := uint(b.Dx()), uint(b.Dy())
	if err := mw.NewImage(w, h, bg); err != nil {
		return fmt.Errorf("allocate %s: %w", filepath.Base(path), err)
	}
	if err := mw.ImportImagePixels(0, 0, w, h, "RGB", imagick.PIXEL_CHAR, toRGB(img)); err != nil {
		return fmt.Errorf("import %s: %w", filepath.Base(path), err)
	}
	if err := mw.SetImageDepth(8); err != nil {
		return err
	}
	if err := mw.SetImageFormat(format); err != nil {
		return fmt.Errorf("format %s: %w", filepath.Base(path), err)
	}
	if format == "JPEG" || format == "WEBP" {
		if err := mw.SetImageCompressionQuality(jpegQuality); err != nil {
			return err
		}
	}
	if err := mw.WriteImage(path); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

func fromRGB(pixels []byte, w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i, j := 0, 0; i < len(pixels); i, j = i+3, j+4 {
		img.Pix[j] = pixels[i]
		img.Pix[j+1] = pixels[i+1]
		img.Pix[j+2] = pixels[i+2]
		img.Pix[j+3] = 0xff
	}
	return img
}

func toRGB(img *image.RGBA) []byte {
	b := img.Bounds()
	out := make([]byte, 0, b.Dx()*b.Dy()*3)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.Pix[img.PixOffset(b.Min.X, y):img.PixOffset(b.Max.X, y)]
		for i := 0; i < len(row); i += 4 {
			out = append(out, row[i], row[i+1], row[i+2])
		}
	}
	return out
}
