package snap

// Encryptor seals blobs at rest. Encryption needs only the public key;
// decryption requires unlocking the private key with a passphrase.
type Encryptor interface {
	// Setup performs one-time key generation. Called during `srcsnap config
	// keys`. The private key is stored encrypted with passphrase.
	Setup(passphrase string) error

	// Encrypt returns the ciphertext of plaintext.
	Encrypt(plaintext []byte) ([]byte, error)

	// Unlock decrypts the private key and returns a Decrypter holding it in
	// memory for the rest of the process.
	Unlock(passphrase string) (Decrypter, error)

	// IsConfigured reports whether both key files exist.
	IsConfigured() bool
}

// Decrypter opens ciphertext produced by the matching Encryptor.
type Decrypter interface {
	Decrypt(ciphertext []byte) ([]byte, error)
}
