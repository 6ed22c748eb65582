// Package codec is the image decode/encode boundary: it reads the common
// raster formats photos arrive in and writes the site's web format.
package codec

import (
	"bytes"
	"fmt"
	"image"
	"io"

	"github.com/disintegration/imaging"
)

// Codec decodes arbitrary raster input and encodes to one output format.
type Codec interface {
	Decode(r io.Reader) (image.Image, error)
	Encode(w io.Writer, img image.Image) error
	// Ext is the output file extension including the dot, e.g. ".webp".
	Ext() string
}

// Options tune a single Transcode call.
type Options struct {
	// MaxHeight scales the image down (keeping aspect ratio) when it is taller. 0 disables.
	MaxHeight int
}

// Transcode decodes src with c, applies opts and returns the encoded output.
func Transcode(c Codec, src []byte, opts Options) ([]byte, error) {
	img, err := c.Decode(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("codec: decode: %w", err)
	}
	if opts.MaxHeight > 0 && img.Bounds().Dy() > opts.MaxHeight {
		img = imaging.Resize(img, 0, opts.MaxHeight, imaging.Lanczos)
	}
	var buf bytes.Buffer
	if err := c.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("codec: encode: %w", err)
	}
	return buf.Bytes(), nil
}
