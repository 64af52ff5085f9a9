package credentials

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/argon2"
)

// keyLength is the required encryption key length (256 bits for AES-256).
const keyLength = 32

// Argon2 parameters for passphrase-based key derivation.
const (
	argon2Time    = 1
	argon2Memory  = 64 * 1024 // 64 MB
	argon2Threads = 4
)

// Environment variables that select a file key provider.
const (
	EnvEncryptionKey = "BOOKPIPE_ENCRYPTION_KEY"
	EnvPassphrase    = "BOOKPIPE_CREDENTIALS_PASSPHRASE"
)

// KeyProvider supplies the key for the encrypted credentials file.
type KeyProvider interface {
	// Key returns the 32-byte encryption key for the file's salt.
	Key(salt []byte) ([]byte, error)

	// Description returns a human-readable description of the key source.
	Description() string
}

// PassphraseKeyProvider derives the key from a passphrase using Argon2id.
type PassphraseKeyProvider struct {
	passphrase string
}

// NewPassphraseKeyProvider creates a new PassphraseKeyProvider.
func NewPassphraseKeyProvider(passphrase string) *PassphraseKeyProvider {
	return &PassphraseKeyProvider{passphrase: passphrase}
}

// Key derives the encryption key from the passphrase and salt.
func (p *PassphraseKeyProvider) Key(salt []byte) ([]byte, error) {
	if p.passphrase == "" {
		return nil, errors.New("passphrase is required")
	}
	if len(salt) == 0 {
		return nil, errors.New("salt is required")
	}

	return argon2.IDKey(
		[]byte(p.passphrase),
		salt,
		argon2Time,
		argon2Memory,
		argon2Threads,
		keyLength,
	), nil
}

// Description returns a description of this key provider.
func (p *PassphraseKeyProvider) Description() string {
	return "Passphrase-derived key (Argon2id)"
}

// GenerateSalt generates a random salt for passphrase key derivation.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}
	return salt, nil
}

// EnvKeyProvider reads a hex key from an environment variable. The salt is ignored.
type EnvKeyProvider struct {
	envVar string
}

// NewEnvKeyProvider creates a new EnvKeyProvider that reads the key from the given env var.
func NewEnvKeyProvider(envVar string) *EnvKeyProvider {
	return &EnvKeyProvider{envVar: envVar}
}

// Key returns the key from the environment variable.
func (p *EnvKeyProvider) Key([]byte) ([]byte, error) {
	keyHex := os.Getenv(p.envVar)
	if keyHex == "" {
		return nil, fmt.Errorf("environment variable %s not set", p.envVar)
	}

	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid key in %s: %w", p.envVar, err)
	}

	if len(key) != keyLength {
		return nil, fmt.Errorf("key in %s must be %d bytes, got %d", p.envVar, keyLength, len(key))
	}

	return key, nil
}

// Description returns a description of this key provider.
func (p *EnvKeyProvider) Description() string {
	return fmt.Sprintf("Environment variable (%s)", p.envVar)
}

// DefaultKeyProvider picks the file key source from the environment:
// BOOKPIPE_ENCRYPTION_KEY first, then BOOKPIPE_CREDENTIALS_PASSPHRASE.
// It returns nil when neither is set, which disables the file fallback.
func DefaultKeyProvider() KeyProvider {
	if os.Getenv(EnvEncryptionKey) != "" {
		return NewEnvKeyProvider(EnvEncryptionKey)
	}
	if p := os.Getenv(EnvPassphrase); p != "" {
		return NewPassphraseKeyProvider(p)
	}
	return nil
}
