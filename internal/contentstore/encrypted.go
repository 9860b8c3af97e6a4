package contentstore

import (
	"context"
	"fmt"

	"srcsnap/internal/snap"
)

// EncryptedStore seals blobs before handing them to the wrapped store.
// Pointers stay derived from the plaintext hash, so dedup still works across
// snapshots even though age ciphertext differs on every write.
//
// Writes need only the public key. Reads fail until a Decrypter is supplied,
// either at construction or through Unlock.
type EncryptedStore struct {
	inner     snap.ContentStore
	encryptor snap.Encryptor
	decrypter snap.Decrypter
}

// NewEncryptedStore wraps inner. decrypter may be nil for write-only use.
func NewEncryptedStore(inner snap.ContentStore, encryptor snap.Encryptor, decrypter snap.Decrypter) *EncryptedStore {
	return &EncryptedStore{inner: inner, encryptor: encryptor, decrypter: decrypter}
}

func (s *EncryptedStore) Name() string { return s.inner.Name() }

// Unlock sets the decrypter used by Get. Called once at startup before the
// store is shared.
func (s *EncryptedStore) Unlock(d snap.Decrypter) { s.decrypter = d }

func (s *EncryptedStore) Put(ctx context.Context, hash string, data []byte) (snap.Pointer, error) {
	if snap.ContentHash(data) != hash {
		return "", fmt.Errorf("content does not match hash %s", hash)
	}
	sealed, err := s.encryptor.Encrypt(data)
	if err != nil {
		return "", fmt.Errorf("encrypting blob %s: %w", hash, err)
	}
	return s.inner.Put(ctx, hash, sealed)
}

func (s *EncryptedStore) Get(ctx context.Context, ptr snap.Pointer) ([]byte, error) {
	if s.decrypter == nil {
		return nil, fmt.Errorf("encrypted store %s is locked", s.inner.Name())
	}
	sealed, err := s.inner.Get(ctx, ptr)
	if err != nil {
		return nil, err
	}
	data, err := s.decrypter.Decrypt(sealed)
	if err != nil {
		return nil, &snap.Error{Kind: snap.ErrIntegrity, Op: "get", Path: string(ptr), Backend: s.inner.Name(), Err: err}
	}
	return data, nil
}

func (s *EncryptedStore) Delete(ctx context.Context, ptr snap.Pointer) (bool, error) {
	return s.inner.Delete(ctx, ptr)
}

var _ snap.ContentStore = (*EncryptedStore)(nil)
