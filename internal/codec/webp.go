package codec

import (
	"bufio"
	"bytes"
	"image"
	"io"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/webp"
)

const (
	DefaultQuality = 80
	DefaultMethod  = 4
)

// WebP encodes to WebP and decodes JPEG, PNG, GIF, BMP, TIFF and WebP.
// JPEG input is rotated according to its EXIF orientation.
type WebP struct {
	Quality  int
	Lossless bool
	Method   int
}

// NewWebP returns a WebP codec; zero values fall back to the defaults.
func NewWebP(quality int, lossless bool) *WebP {
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}
	return &WebP{Quality: quality, Lossless: lossless, Method: DefaultMethod}
}

// Ext implements Codec.
func (c *WebP) Ext() string { return ".webp" }

// Decode implements Codec.
func (c *WebP) Decode(r io.Reader) (image.Image, error) {
	br := bufio.NewReader(r)
	if head, err := br.Peek(12); err == nil && IsWebP(head) {
		return webp.Decode(br)
	}
	return imaging.Decode(br, imaging.AutoOrientation(true))
}

// Encode implements Codec.
func (c *WebP) Encode(w io.Writer, img image.Image) error {
	return webp.Encode(w, img, webp.Options{
		Quality:  c.Quality,
		Lossless: c.Lossless,
		Method:   c.Method,
	})
}

// IsWebP reports whether head starts with a RIFF/WEBP container header.
func IsWebP(head []byte) bool {
	return len(head) >= 12 && bytes.Equal(head[0:4], []byte("RIFF")) && bytes.Equal(head[8:12], []byte("WEBP"))
}
