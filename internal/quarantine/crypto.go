// Envelope encryption for quarantine blobs. The open
// question about AEAD choice ("the source's encryption ... neither
// provides integrity ... an implementer must choose a concrete AEAD") is
// resolved here: golang.org/x/crypto/chacha20poly1305, already present in
// this module's dependency graph, gives every blob both confidentiality
// and an integrity tag.
package quarantine

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

var magic = [4]byte{'Q', 'V', 'L', 'T'}

const blobVersion uint32 = 1

// MasterKeyProvider supplies the store's out-of-band master key used to
// wrap per-blob content keys. Its storage/derivation is outside this
// spec's scope ( "configuration persistence" is out of scope).
type MasterKeyProvider interface {
	MasterKey() ([]byte, error) // must return exactly chacha20poly1305.KeySize bytes
}

// StaticMasterKey is the simplest MasterKeyProvider: a fixed key supplied
// at construction (e.g. loaded from a platform keystore by the caller).
type StaticMasterKey struct{ Key []byte }

func (s StaticMasterKey) MasterKey() ([]byte, error) {
	if len(s.Key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("master key must be %d bytes, got %d", chacha20poly1305.KeySize, len(s.Key))
	}
	return s.Key, nil
}

// sealedBlob is the encoded on-disk layout written by encryptBlob:
//
//	magic(4) | version(4) | contentNonce(12) | wrappedKeyLen(4) | wrappedKey(N) | originalSize(8) | ciphertext(...)
func encryptBlob(plaintext []byte, master MasterKeyProvider) ([]byte, error) {
	contentKey := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(rand.Reader, contentKey); err != nil {
		return nil, fmt.Errorf("generate content key: %w", err)
	}

	contentAEAD, err := chacha20poly1305.New(contentKey)
	if err != nil {
		return nil, fmt.Errorf("init content cipher: %w", err)
	}
	contentNonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := io.ReadFull(rand.Reader, contentNonce); err != nil {
		return nil, fmt.Errorf("generate content nonce: %w", err)
	}
	ciphertext := contentAEAD.Seal(nil, contentNonce, plaintext, nil)

	wrappedKey, err := wrapContentKey(contentKey, master)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, 4+4+len(contentNonce)+4+len(wrappedKey)+8+len(ciphertext))
	out = append(out, magic[:]...)
	out = appendU32(out, blobVersion)
	out = append(out, contentNonce...)
	out = appendU32(out, uint32(len(wrappedKey)))
	out = append(out, wrappedKey...)
	out = appendU64(out, uint64(len(plaintext)))
	out = append(out, ciphertext...)
	return out, nil
}

// decryptBlob validates the header and AEAD tag before returning
// plaintext; any failure is IntegrityFailure territory for the caller.
func decryptBlob(blob []byte, master MasterKeyProvider) ([]byte, error) {
	if len(blob) < 4+4+chacha20poly1305.NonceSize+4+8 {
		return nil, fmt.Errorf("blob too short")
	}
	if [4]byte(blob[0:4]) != magic {
		return nil, fmt.Errorf("bad magic")
	}
	off := 4
	version := binary.LittleEndian.Uint32(blob[off : off+4])
	off += 4
	if version != blobVersion {
		return nil, fmt.Errorf("unsupported blob version %d", version)
	}
	contentNonce := blob[off : off+chacha20poly1305.NonceSize]
	off += chacha20poly1305.NonceSize

	wrappedKeyLen := int(binary.LittleEndian.Uint32(blob[off : off+4]))
	off += 4
	if off+wrappedKeyLen > len(blob) {
		return nil, fmt.Errorf("truncated wrapped key")
	}
	wrappedKey := blob[off : off+wrappedKeyLen]
	off += wrappedKeyLen

	if off+8 > len(blob) {
		return nil, fmt.Errorf("truncated size field")
	}
	off += 8 // originalSize, informational only; AEAD tag is the integrity source of truth

	ciphertext := blob[off:]

	contentKey, err := unwrapContentKey(wrappedKey, master)
	if err != nil {
		return nil, fmt.Errorf("unwrap content key: %w", err)
	}
	contentAEAD, err := chacha20poly1305.New(contentKey)
	if err != nil {
		return nil, fmt.Errorf("init content cipher: %w", err)
	}
	plaintext, err := contentAEAD.Open(nil, contentNonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("integrity check failed: %w", err)
	}
	return plaintext, nil
}

func wrapContentKey(contentKey []byte, master MasterKeyProvider) ([]byte, error) {
	key, err := master.MasterKey()
	if err != nil {
		return nil, fmt.Errorf("load master key: %w", err)
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("init master cipher: %w", err)
	}
	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate wrap nonce: %w", err)
	}
	wrapped := aead.Seal(nonce, nonce, contentKey, nil)
	return wrapped, nil
}

func unwrapContentKey(wrapped []byte, master MasterKeyProvider) ([]byte, error) {
	key, err := master.MasterKey()
	if err != nil {
		return nil, fmt.Errorf("load master key: %w", err)
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("init master cipher: %w", err)
	}
	if len(wrapped) < chacha20poly1305.NonceSize {
		return nil, fmt.Errorf("wrapped key too short")
	}
	nonce := wrapped[:chacha20poly1305.NonceSize]
	ciphertext := wrapped[chacha20poly1305.NonceSize:]
	return aead.Open(nil, nonce, ciphertext, nil)
}

func appendU32(b []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(b, tmp[:]...)
}

func appendU64(b []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(b, tmp[:]...)
}
