package codec

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := imaging.New(w, h, color.NRGBA{R: 200, G: 40, B: 90, A: 255})
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

func TestTranscode_JPEGToWebP(t *testing.T) {
	c := NewWebP(0, false)
	out, err := Transcode(c, sampleJPEG(t, 64, 32), Options{})
	require.NoError(t, err)
	assert.True(t, IsWebP(out), "output should carry a RIFF/WEBP header")

	img, err := c.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 64, 32), img.Bounds())
}

func TestTranscode_MaxHeight(t *testing.T) {
	c := NewWebP(75, false)
	out, err := Transcode(c, sampleJPEG(t, 800, 1000), Options{MaxHeight: 400})
	require.NoError(t, err)

	img, err := c.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 400, img.Bounds().Dy())
	assert.Equal(t, 320, img.Bounds().Dx())
}

func TestTranscode_MaxHeightNoUpscale(t *testing.T) {
	c := NewWebP(75, true)
	out, err := Transcode(c, sampleJPEG(t, 40, 20), Options{MaxHeight: 400})
	require.NoError(t, err)

	img, err := c.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 20, img.Bounds().Dy())
}

func TestTranscode_Garbage(t *testing.T) {
	_, err := Transcode(NewWebP(0, false), []byte("definitely not an image"), Options{})
	assert.Error(t, err)
}

func TestNewWebP_Defaults(t *testing.T) {
	c := NewWebP(250, false)
	assert.Equal(t, DefaultQuality, c.Quality)
	assert.Equal(t, ".webp", c.Ext())
}

func TestIsWebP(t *testing.T) {
	assert.True(t, IsWebP([]byte("RIFF\x00\x00\x00\x00WEBPVP8 ")))
	assert.False(t, IsWebP([]byte("\xff\xd8\xff\xe0")))
	assert.False(t, IsWebP([]byte("RIFF\x00\x00\x00\x00WAVE")))
}
