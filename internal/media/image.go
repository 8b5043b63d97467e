// Package media converts uploaded image payloads into the inline form sent
// to the generation backend.
package media

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/maauso/genstudio-api/internal/generator"
)

// DefaultMaxImageBytes is the default upper bound for a decoded image.
const DefaultMaxImageBytes int64 = 20 << 20

// Static errors for image decoding.
var (
	// ErrEmptyImage is returned when the payload is empty.
	ErrEmptyImage = errors.New("media: image is empty")
	// ErrInvalidBase64 is returned when the payload is not valid base64.
	ErrInvalidBase64 = errors.New("media: image is not valid base64")
	// ErrNotAnImage is returned when the payload is not an image.
	ErrNotAnImage = errors.New("media: payload is not an image")
	// ErrImageTooLarge is returned when the decoded image exceeds the limit.
	ErrImageTooLarge = errors.New("media: image is too large")
)

// Decoder turns base64 image payloads into generator images.
type Decoder struct {
	maxBytes int64
}

// NewDecoder creates a Decoder. A non-positive maxBytes uses DefaultMaxImageBytes.
func NewDecoder(maxBytes int64) *Decoder {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxImageBytes
	}
	return &Decoder{maxBytes: maxBytes}
}

// MaxBytes returns the configured size limit.
func (d *Decoder) MaxBytes() int64 {
	return d.maxBytes
}

// DecodeImage decodes payload, which may be plain base64 or a data URL.
// The MIME type is sniffed from the content; declared is only used when the
// content is not recognized.
func (d *Decoder) DecodeImage(payload, declared string) (generator.Image, error) {
	payload = strings.TrimSpace(payload)
	if mt, data, ok := splitDataURL(payload); ok {
		payload = data
		if declared == "" {
			declared = mt
		}
	}
	if payload == "" {
		return generator.Image{}, ErrEmptyImage
	}

	if int64(base64.StdEncoding.DecodedLen(len(payload))) > d.maxBytes+2 {
		return generator.Image{}, fmt.Errorf("%w: limit is %d bytes", ErrImageTooLarge, d.maxBytes)
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
		if err != nil {
			return generator.Image{}, fmt.Errorf("%w: %w", ErrInvalidBase64, err)
		}
	}
	if len(data) == 0 {
		return generator.Image{}, ErrEmptyImage
	}
	if int64(len(data)) > d.maxBytes {
		return generator.Image{}, fmt.Errorf("%w: limit is %d bytes", ErrImageTooLarge, d.maxBytes)
	}

	mime, err := detectImageType(data, declared)
	if err != nil {
		return generator.Image{}, err
	}
	return generator.Image{MimeType: mime, Data: data}, nil
}

func detectImageType(data []byte, declared string) (string, error) {
	detected := mimetype.Detect(data)
	for m := detected; m != nil; m = m.Parent() {
		if strings.HasPrefix(m.String(), "image/") {
			return baseType(m.String()), nil
		}
	}

	declared = baseType(strings.ToLower(strings.TrimSpace(declared)))
	if strings.HasPrefix(declared, "image/") && detected.Is("application/octet-stream") {
		return declared, nil
	}
	return "", fmt.Errorf("%w: detected %s", ErrNotAnImage, detected.String())
}

// splitDataURL splits "data:<mime>;base64,<data>".
func splitDataURL(s string) (mimeType, data string, ok bool) {
	if !strings.HasPrefix(s, "data:") {
		return "", "", false
	}
	header, data, found := strings.Cut(s[len("data:"):], ",")
	if !found {
		return "", "", false
	}
	mimeType, _, _ = strings.Cut(header, ";")
	return mimeType, data, true
}

func baseType(m string) string {
	t, _, _ := strings.Cut(m, ";")
	return strings.TrimSpace(t)
}
