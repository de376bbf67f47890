// Package fsid establishes content identity for files: streaming
// hashing, safe directory enumeration, and the ScanContext builder that
// other packages consume ( "Created by the context builder").
package fsid

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// Hash computes SHA-256 and MD5 of the file at path in a single
// streaming pass via io.MultiWriter, so large files are read from disk
// only once.
func Hash(path string) (sha256Hex, md5Hex string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", "", fmt.Errorf("open %s for hashing: %w", path, err)
	}
	defer f.Close()

	sh := sha256.New()
	mh := md5.New()
	w := io.MultiWriter(sh, mh)

	if _, err := io.Copy(w, f); err != nil {
		return "", "", fmt.Errorf("hash %s: %w", path, err)
	}

	return hex.EncodeToString(sh.Sum(nil)), hex.EncodeToString(mh.Sum(nil)), nil
}
