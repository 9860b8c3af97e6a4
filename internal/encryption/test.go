package encryption

import (
	"bytes"
	"fmt"

	"srcsnap/internal/snap"
)

// testHeader marks data sealed by TestEncryptor.
var testHeader = []byte("SSENC\x00\x00\x00")

// TestEncryptor is a deterministic stand-in for AgeEncryptor. It prepends a
// fixed 8-byte header so ciphertext differs from plaintext, and needs no keys.
type TestEncryptor struct {
	setupCalled bool
}

var _ snap.Encryptor = (*TestEncryptor)(nil)

// NewTestEncryptor creates a new TestEncryptor.
func NewTestEncryptor() *TestEncryptor {
	return &TestEncryptor{}
}

func (e *TestEncryptor) Setup(string) error {
	e.setupCalled = true
	return nil
}

func (e *TestEncryptor) Encrypt(plaintext []byte) ([]byte, error) {
	out := make([]byte, 0, len(testHeader)+len(plaintext))
	out = append(out, testHeader...)
	return append(out, plaintext...), nil
}

func (e *TestEncryptor) Unlock(string) (snap.Decrypter, error) {
	return TestDecrypter{}, nil
}

func (e *TestEncryptor) IsConfigured() bool { return true }

// TestDecrypter strips the header added by TestEncryptor.
type TestDecrypter struct{}

var _ snap.Decrypter = TestDecrypter{}

func (TestDecrypter) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < len(testHeader) {
		return nil, fmt.Errorf("reading test header: ciphertext too short")
	}
	if !bytes.Equal(ciphertext[:len(testHeader)], testHeader) {
		return nil, fmt.Errorf("invalid test encryption header")
	}
	out := make([]byte, len(ciphertext)-len(testHeader))
	copy(out, ciphertext[len(testHeader):])
	return out, nil
}
