// Package blob stores report bodies by content digest.
package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound   = errors.New("blob_not_found")
	ErrInvalidURL = errors.New("invalid_blob_url")
)

// Info describes a stored body.
type Info struct {
	URL    string
	Digest []byte
}

// Store persists bodies under their SHA-256 digest. Uploading identical bytes
// twice yields the same URL and writes once.
type Store interface {
	Upload(ctx context.Context, data []byte) (Info, error)
	Get(ctx context.Context, url string) ([]byte, error)
}

func digest(data []byte) ([]byte, string) {
	sum := sha256.Sum256(data)
	return sum[:], hex.EncodeToString(sum[:])
}

func objectKey(prefix, hash string) string {
	return prefix + hash + ".blob"
}

// splitURL parses scheme://bucket/key.
func splitURL(url, scheme string) (string, string, error) {
	rest, ok := strings.CutPrefix(url, scheme+"://")
	if !ok {
		return "", "", fmt.Errorf("%w: %s", ErrInvalidURL, url)
	}
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("%w: %s", ErrInvalidURL, url)
	}
	return bucket, key, nil
}
