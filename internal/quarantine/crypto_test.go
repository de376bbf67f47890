package quarantine

import (
	"bytes"
	"testing"

	"golang.org/x/crypto/chacha20poly1305"
)

func testMasterKey() MasterKeyProvider {
	key := make([]byte, chacha20poly1305.KeySize)
	for i := range key {
		key[i] = byte(i)
	}
	return StaticMasterKey{Key: key}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	master := testMasterKey()
	plaintext := []byte("this is the original file content")

	blob, err := encryptBlob(plaintext, master)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if !bytes.Equal(blob[0:4], magic[:]) {
		t.Fatalf("expected blob to start with QVLT magic, got %v", blob[0:4])
	}

	got, err := decryptBlob(blob, master)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("round trip mismatch: got %q want %q", got, plaintext)
	}
}

func TestDecryptRejectsBadMagic(t *testing.T) {
	master := testMasterKey()
	blob, _ := encryptBlob([]byte("data"), master)
	blob[0] = 'X'

	if _, err := decryptBlob(blob, master); err == nil {
		t.Fatal("expected error for corrupted magic")
	}
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	master := testMasterKey()
	blob, _ := encryptBlob([]byte("sensitive content"), master)
	blob[len(blob)-1] ^= 0xFF

	if _, err := decryptBlob(blob, master); err == nil {
		t.Fatal("expected integrity check failure for tampered ciphertext")
	}
}

func TestDecryptRejectsWrongMasterKey(t *testing.T) {
	blob, _ := encryptBlob([]byte("top secret"), testMasterKey())

	wrongKey := make([]byte, chacha20poly1305.KeySize)
	wrongKey[0] = 0xFF
	wrong := StaticMasterKey{Key: wrongKey}

	if _, err := decryptBlob(blob, wrong); err == nil {
		t.Fatal("expected failure decrypting with wrong master key")
	}
}

func TestTwoEncryptionsOfSameContentProduceDifferentBlobs(t *testing.T) {
	master := testMasterKey()
	plaintext := []byte("identical content")

	a, err := encryptBlob(plaintext, master)
	if err != nil {
		t.Fatal(err)
	}
	b, err := encryptBlob(plaintext, master)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(a, b) {
		t.Fatal("expected distinct nonces to produce distinct blobs for identical plaintext")
	}
}

func TestStaticMasterKeyRejectsWrongLength(t *testing.T) {
	bad := StaticMasterKey{Key: []byte("too short")}
	if _, err := bad.MasterKey(); err == nil {
		t.Fatal("expected error for short master key")
	}
}
