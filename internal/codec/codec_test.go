package codec

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatFor(t *testing.T) {
	cases := map[string]string{
		"a.jpg":       "JPEG",
		"b.JPEG":      "JPEG",
		"c.png":       "PNG",
		"d.Bmp":       "BMP",
		"e.tiff":      "TIFF",
		"f.webp":      "WEBP",
		"dir/g.x.png": "PNG",
	}
	for in, want := range cases {
		got, err := FormatFor(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := FormatFor("h.gif")
	assert.ErrorContains(t, err, "unsupported image extension")
}

func TestRGBConversionDropsAlpha(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 1))
	img.Set(0, 0, color.RGBA{10, 20, 30, 40})
	img.Set(1, 0, color.RGBA{50, 60, 70, 255})

	rgb := toRGB(img)
	assert.Equal(t, []byte{10, 20, 30, 50, 60, 70}, rgb)

	back := fromRGB(rgb, 2, 1)
	assert.Equal(t, color.RGBA{10, 20, 30, 255}, back.RGBAAt(0, 0))
	assert.Equal(t, color.RGBA{50, 60, 70, 255}, back.RGBAAt(1, 0))
}

func TestToRGBHonoursSubImage(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(2, 3, color.RGBA{1, 2, 3, 255})
	sub := img.SubImage(image.Rect(2, 3, 3, 4)).(*image.RGBA)
	assert.Equal(t, []byte{1, 2, 3}, toRGB(sub))
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	m := NewMagick()
	defer m.Close()
	assert.NotEmpty(t, m.Version())

	img := image.NewRGBA(image.Rect(0, 0, 16, 9))
	for y := 0; y < 9; y++ {
		for x := 0; x < 16; x++ {
			img.Set(x, y, color.RGBA{uint8(x * 15), uint8(y * 25), 128, 255})
		}
	}

	dir := t.TempDir()
	for _, name := range []string{"out.png", "out.bmp", "out.tiff"} {
		path := filepath.Join(dir, name)
		require.NoError(t, m.Encode(path, img), name)

		got, err := m.Decode(path)
		require.NoError(t, err, name)
		assert.Equal(t, img.Bounds(), got.Bounds(), name)
		assert.Equal(t, img.RGBAAt(7, 4), got.RGBAAt(7, 4), name)
	}

	jpg := filepath.Join(dir, "out.jpg")
	require.NoError(t, m.Encode(jpg, img))
	got, err := m.Decode(jpg)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 16, 9), got.Bounds())
}

func TestDecodeCorruptFile(t *testing.T) {
	m := NewMagick()
	defer m.Close()

	path := filepath.Join(t.TempDir(), "broken.png")
	require.NoError(t, os.WriteFile(path, []byte("not an image"), 0o644))

	_, err := m.Decode(path)
	assert.ErrorContains(t, err, "broken.png")
}
