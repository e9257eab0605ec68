package imaging

import (
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"math"
	"strings"
)

// ErrInvalidDataURL is returned when a string is not a base64 image data URL.
var ErrInvalidDataURL = errors.New("invalid image data URL")

// EncodeDataURL encodes img as a data:image/jpeg;base64 URL. quality is the
// browser-style 0..1 factor passed to canvas.toDataURL.
func EncodeDataURL(img image.Image, quality float64) (string, error) {
	data, err := EncodeJPEG(img, JPEGQuality(quality))
	if err != nil {
		return "", err
	}
	return DataURL("image/jpeg", data), nil
}

// DataURL wraps raw bytes in a base64 data URL.
func DataURL(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// JPEGQuality maps a 0..1 factor to the 1..100 scale image/jpeg uses.
func JPEGQuality(q float64) int {
	return int(math.Round(math.Max(0.01, math.Min(1, q)) * 100))
}

// DecodeDataURL returns the bytes and MIME type of an image data URL. A bare
// base64 payload without the data: prefix is accepted as JPEG.
func DecodeDataURL(s string) ([]byte, string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, "", ErrInvalidDataURL
	}

	mime := "image/jpeg"
	payload := s
	if strings.HasPrefix(s, "data:") {
		header, body, ok := strings.Cut(s, ",")
		if !ok || !strings.HasSuffix(header, ";base64") {
			return nil, "", ErrInvalidDataURL
		}
		mime = strings.TrimSuffix(strings.TrimPrefix(header, "data:"), ";base64")
		if !strings.HasPrefix(mime, "image/") {
			return nil, "", fmt.Errorf("%w: unsupported type %q", ErrInvalidDataURL, mime)
		}
		payload = body
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidDataURL, err)
	}
	if len(data) == 0 {
		return nil, "", ErrInvalidDataURL
	}
	return data, mime, nil
}
