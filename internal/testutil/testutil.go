// Package testutil provides shared test helpers for character directories,
// sample images and manifest databases.
package testutil

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/guildsync/internal/manifest"
	"github.com/starford/guildsync/internal/storage"
)

// TestDB creates a temporary manifest database that is automatically cleaned up.
func TestDB(t *testing.T) *manifest.DB {
	t.Helper()
	db, err := manifest.Open(filepath.Join(t.TempDir(), "guildsync-test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestDir creates a temporary directory with a storage.Provider bound to it.
func TestDir(t *testing.T) (string, storage.Provider) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	return dir, store
}

// Sample returns a small solid image whose color is derived from seed, so
// different seeds give different pixels.
func Sample(seed int) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	c := color.NRGBA{R: uint8(seed * 37), G: uint8(seed * 91), B: uint8(seed * 13), A: 255}
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

// PNG encodes Sample(seed) as PNG.
func PNG(t *testing.T, seed int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, Sample(seed)); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// JPEG encodes Sample(seed) as JPEG.
func JPEG(t *testing.T, seed int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, Sample(seed), &jpeg.Options{Quality: 90}); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// WriteFile writes data to dir/name.
func WriteFile(t *testing.T, dir, name string, data []byte) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		t.Fatal(err)
	}
}

// ReadFile returns the content of dir/name.
func ReadFile(t *testing.T, dir, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatal(err)
	}
	return data
}

// Files lists the visible regular file names in dir, sorted.
func Files(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var out []string
	for _, e := range entries {
		if e.Type().IsRegular() && e.Name()[0] != '.' {
			out = append(out, e.Name())
		}
	}
	return out
}

// FakeCodec stands in for the WebP codec: it decodes PNG and JPEG and
// writes PNG bytes under the ".webp" extension. Its output is deterministic.
type FakeCodec struct{}

func (FakeCodec) Decode(r io.Reader) (image.Image, error) {
	img, _, err := image.Decode(r)
	return img, err
}

func (FakeCodec) Encode(w io.Writer, img image.Image) error {
	return png.Encode(w, img)
}

func (FakeCodec) Ext() string { return ".webp" }
