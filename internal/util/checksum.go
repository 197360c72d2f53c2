package util

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
)

// Digest is the size and hex SHA-256 of a file, attached to uploads as metadata.
type Digest struct {
	SHA256 string
	Size   int64
}

// DigestFile reads path once and returns its Digest.
func DigestFile(path string) (Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return Digest{}, err
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return Digest{}, err
	}
	return Digest{SHA256: hex.EncodeToString(h.Sum(nil)), Size: n}, nil
}
