// Package imageref represents the image inputs fed into the prediction
// pipeline. An Image is either an in-memory payload or a remote URL, and
// carries a stable fingerprint used as the cache and dedupe key.
package imageref

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// MaxBytes is the default upper bound for in-memory image payloads (16MB),
// matching the service's upload limit.
const MaxBytes = 16 * 1024 * 1024

// allowedExtensions lists the upload file extensions accepted by the service.
var allowedExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".bmp":  true,
	".webp": true,
}

// ValidationError reports a rejected image input. It is never retried.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid image input: " + e.Reason
}

// Image is an immutable image input: either raw payload bytes or a remote
// URL reference. The zero value is invalid; use the From* constructors.
type Image struct {
	data        []byte
	url         string
	source      string
	fingerprint string
}

// FromBytes creates an Image from an in-memory payload. The payload must be
// non-empty and no larger than maxBytes (MaxBytes if maxBytes <= 0).
func FromBytes(data []byte, maxBytes int64) (Image, error) {
	if len(data) == 0 {
		return Image{}, &ValidationError{Reason: "empty payload"}
	}
	limit := int64(MaxBytes)
	if maxBytes > 0 {
		limit = maxBytes
	}
	if int64(len(data)) > limit {
		return Image{}, &ValidationError{Reason: fmt.Sprintf("payload exceeds %d bytes", limit)}
	}

	sum := sha256.Sum256(data)
	return Image{
		data:        data,
		source:      "upload",
		fingerprint: hex.EncodeToString(sum[:]),
	}, nil
}

// FromURL creates an Image referencing a remote resource. The URL must be
// absolute http(s).
func FromURL(raw string) (Image, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Image{}, &ValidationError{Reason: "empty image URL"}
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Image{}, &ValidationError{Reason: "image URL must be absolute http(s)"}
	}

	normalized := u.String()
	sum := sha256.Sum256([]byte("url:" + normalized))
	return Image{
		url:         normalized,
		source:      normalized,
		fingerprint: hex.EncodeToString(sum[:]),
	}, nil
}

// FromFile loads a local image file. The extension must be one of the
// supported image formats.
func FromFile(path string) (Image, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if !allowedExtensions[ext] {
		return Image{}, &ValidationError{Reason: fmt.Sprintf("unsupported image format: %s", path)}
	}

	data, err := os.ReadFile(path) //nolint:gosec // path comes from CLI arguments
	if err != nil {
		return Image{}, fmt.Errorf("failed to read %s: %w", path, err)
	}

	img, err := FromBytes(data, 0)
	if err != nil {
		return Image{}, err
	}
	img.source = path
	return img, nil
}

// AllowedExtension reports whether the file name has a supported image
// extension.
func AllowedExtension(name string) bool {
	return allowedExtensions[strings.ToLower(filepath.Ext(name))]
}

// IsURL reports whether the image is a remote reference.
func (im Image) IsURL() bool { return im.url != "" }

// URL returns the remote reference, or "" for payload-backed images.
func (im Image) URL() string { return im.url }

// Data returns the raw payload, or nil for URL-backed images.
func (im Image) Data() []byte { return im.data }

// Source is a human-readable origin for logs and batch outcomes: the file
// path, the URL, or "upload".
func (im Image) Source() string { return im.source }

// Fingerprint returns the stable content hash used as the cache key.
func (im Image) Fingerprint() string { return im.fingerprint }
