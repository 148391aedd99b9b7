package imaging

import (
	"bytes"
	"errors"
	"image"
	"image/jpeg"
	"testing"
)

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h)), nil); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func TestProcessFillsSquare(t *testing.T) {
	p := NewProcessor(Config{Size: 64})

	n, err := p.Process(jpegBytes(t, 300, 120))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if b := n.Image.Bounds(); b.Dx() != 64 || b.Dy() != 64 {
		t.Fatalf("expected 64x64, got %dx%d", b.Dx(), b.Dy())
	}
	if n.SourceWidth != 300 || n.SourceHeight != 120 {
		t.Fatalf("unexpected source size %dx%d", n.SourceWidth, n.SourceHeight)
	}
	if n.ContentType != "image/jpeg" {
		t.Fatalf("unexpected content type %q", n.ContentType)
	}
}

func TestProcessRejectsGarbageAndHugeImages(t *testing.T) {
	p := NewProcessor(Config{Size: 32, MaxSourcePixels: 100})

	if _, err := p.Process([]byte("nope")); !errors.Is(err, ErrUndecodable) {
		t.Fatalf("expected ErrUndecodable, got %v", err)
	}
	if _, err := p.Process(jpegBytes(t, 20, 20)); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
}
