package imaging

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math"
	"strings"
	"testing"
)

func solid(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, c)
		}
	}
	return img
}

func checkerboard(w, h, cell int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			if (x/cell+y/cell)%2 == 0 {
				img.Set(x, y, color.White)
			} else {
				img.Set(x, y, color.Black)
			}
		}
	}
	return img
}

func TestHammingDistance(t *testing.T) {
	tests := []struct {
		name     string
		hash1    uint64
		hash2    uint64
		expected int
	}{
		{"identical", 0x0, 0x0, 0},
		{"completely different", 0xFFFFFFFFFFFFFFFF, 0x0, 64},
		{"one bit different", 0x1, 0x0, 1},
		{"alternating", 0xAAAAAAAAAAAAAAAA, 0x5555555555555555, 64},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := HammingDistance(tc.hash1, tc.hash2); got != tc.expected {
				t.Errorf("HammingDistance(%x, %x) = %d; want %d", tc.hash1, tc.hash2, got, tc.expected)
			}
		})
	}
}

func TestPHashStableAcrossScale(t *testing.T) {
	a := PHash(checkerboard(128, 128, 16))
	b := PHash(checkerboard(256, 256, 32))
	if d := HammingDistance(a, b); d > 6 {
		t.Errorf("expected scaled copies to hash alike, distance %d", d)
	}
	if len(FormatHash(a)) != 16 {
		t.Errorf("expected 16 hex digits, got %q", FormatHash(a))
	}
}

func TestMeanStd(t *testing.T) {
	g := ToGray(solid(10, 10, color.Gray{Y: 100}))
	mean, std := g.MeanStd()
	if math.Abs(mean-100) > 0.5 || std > 0.01 {
		t.Errorf("mean=%v std=%v, want 100 and 0", mean, std)
	}
}

func TestLaplacianVariance(t *testing.T) {
	flat := ToGray(solid(20, 20, color.Gray{Y: 128})).LaplacianVariance()
	if flat != 0 {
		t.Errorf("flat image variance = %v, want 0", flat)
	}
	sharp := ToGray(checkerboard(20, 20, 1)).LaplacianVariance()
	if sharp < 1000 {
		t.Errorf("checkerboard variance = %v, expected a large value", sharp)
	}
	tiny := ToGray(solid(2, 2, color.White)).LaplacianVariance()
	if tiny != 0 {
		t.Errorf("tiny image variance = %v, want 0", tiny)
	}
}

func TestFit(t *testing.T) {
	img := solid(400, 200, color.White)
	got := Fit(img, 100).Bounds()
	if got.Dx() != 100 || got.Dy() != 50 {
		t.Errorf("Fit = %dx%d, want 100x50", got.Dx(), got.Dy())
	}
	if Fit(img, 1000) != image.Image(img) {
		t.Error("expected small image to be returned unchanged")
	}
}

func TestDataURLRoundTrip(t *testing.T) {
	url, err := EncodeDataURL(solid(16, 16, color.RGBA{R: 200, A: 255}), 0.92)
	if err != nil {
		t.Fatalf("EncodeDataURL: %v", err)
	}
	if !strings.HasPrefix(url, "data:image/jpeg;base64,") {
		t.Fatalf("unexpected prefix: %.30s", url)
	}

	data, mime, err := DecodeDataURL(url)
	if err != nil {
		t.Fatalf("DecodeDataURL: %v", err)
	}
	if mime != "image/jpeg" || DetectMIMEType(data) != "image/jpeg" {
		t.Errorf("mime = %s, detected %s", mime, DetectMIMEType(data))
	}
	img, format, err := Decode(data)
	if err != nil || format != "jpeg" || img.Bounds().Dx() != 16 {
		t.Errorf("Decode = %v, %s, %v", img.Bounds(), format, err)
	}
}

func TestDecodeDataURLErrors(t *testing.T) {
	tests := []string{
		"",
		"data:image/jpeg,notbase64",
		"data:text/plain;base64,aGVsbG8=",
		"data:image/png;base64,!!!",
	}
	for _, in := range tests {
		if _, _, err := DecodeDataURL(in); !errors.Is(err, ErrInvalidDataURL) {
			t.Errorf("DecodeDataURL(%q) error = %v, want ErrInvalidDataURL", in, err)
		}
	}
}

func TestJPEGQuality(t *testing.T) {
	if q := JPEGQuality(0.92); q != 92 {
		t.Errorf("JPEGQuality(0.92) = %d", q)
	}
	if q := JPEGQuality(2); q != 100 {
		t.Errorf("JPEGQuality(2) = %d", q)
	}
	if q := JPEGQuality(0); q != 1 {
		t.Errorf("JPEGQuality(0) = %d", q)
	}
}

func TestDetectMIMEType(t *testing.T) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, solid(4, 4, color.White)); err != nil {
		t.Fatal(err)
	}
	if got := DetectMIMEType(buf.Bytes()); got != "image/png" {
		t.Errorf("DetectMIMEType(png) = %s", got)
	}
	if got := Extension("image/png"); got != ".png" {
		t.Errorf("Extension = %s", got)
	}
	if got := DetectMIMEType([]byte("short")); got != "application/octet-stream" {
		t.Errorf("DetectMIMEType(short) = %s", got)
	}
	if _, _, err := Decode(nil); !errors.Is(err, ErrEmptyImage) {
		t.Errorf("Decode(nil) error = %v", err)
	}
}
