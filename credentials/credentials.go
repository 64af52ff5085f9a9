// Package credentials stores the PostgreSQL mirror password.
//
// Lookup order:
//   - BOOKPIPE_PG_PASSWORD environment variable
//   - the system keyring (macOS Keychain, Windows Credential Manager,
//     Linux Secret Service)
//   - an AES-GCM encrypted credentials.yaml in the config directory, for
//     hosts without a keyring; its key comes from a KeyProvider
package credentials

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/zalando/go-keyring"
	"gopkg.in/yaml.v3"
)

const (
	// keyringService is the service name used in the system keyring.
	keyringService = "bookpipe"

	// DefaultCredentialsFile is the encrypted fallback file name.
	DefaultCredentialsFile = "credentials.yaml"

	// EnvPassword overrides every stored password.
	EnvPassword = "BOOKPIPE_PG_PASSWORD"
)

// Password sources reported by Lookup and Save.
const (
	SourceEnv     = "env"
	SourceKeyring = "keyring"
	SourceFile    = "file"
)

// Common errors.
var (
	// ErrNoCredentials is returned when no password is stored for an account.
	ErrNoCredentials = errors.New("no credentials stored")
	// ErrKeyringUnavailable indicates the system keyring is not available.
	ErrKeyringUnavailable = errors.New("system keyring unavailable")
	// ErrEncryptionFailed is returned when encryption/decryption fails.
	ErrEncryptionFailed = errors.New("encryption failed")
)

// Account names the keyring entry for a database login.
func Account(user, host string, port int) string {
	return fmt.Sprintf("%s@%s:%d", user, host, port)
}

// fileData is the on-disk layout of the fallback file.
type fileData struct {
	Salt        string            `yaml:"salt"`
	Passwords   map[string]string `yaml:"passwords"`
	LastUpdated time.Time         `yaml:"last_updated"`
}

// Store manages password storage operations.
type Store struct {
	dir         string
	keyProvider KeyProvider
}

// NewStore creates a store whose fallback file lives in dir. A nil
// keyProvider disables the fallback file.
func NewStore(dir string, keyProvider KeyProvider) *Store {
	return &Store{dir: dir, keyProvider: keyProvider}
}

// Path returns the fallback file location.
func (s *Store) Path() string {
	return filepath.Join(s.dir, DefaultCredentialsFile)
}

// Save stores password for account in the keyring, or in the encrypted file
// when the keyring is unavailable and a key provider is configured.
// It returns the source that now holds the password.
func (s *Store) Save(account, password string) (string, error) {
	err := keyring.Set(keyringService, account, password)
	if err == nil {
		return SourceKeyring, nil
	}
	if s.keyProvider == nil {
		return "", fmt.Errorf("%w: %v", ErrKeyringUnavailable, err)
	}
	if err := s.saveFile(account, password); err != nil {
		return "", err
	}
	return SourceFile, nil
}

// Lookup returns the password for account and where it came from.
func (s *Store) Lookup(account string) (string, string, error) {
	if v := os.Getenv(EnvPassword); v != "" {
		return v, SourceEnv, nil
	}

	password, err := keyring.Get(keyringService, account)
	if err == nil {
		return password, SourceKeyring, nil
	}
	if !errors.Is(err, keyring.ErrNotFound) && s.keyProvider == nil {
		return "", "", fmt.Errorf("%w: %v", ErrKeyringUnavailable, err)
	}

	if s.keyProvider != nil {
		password, err := s.loadFile(account)
		if err == nil {
			return password, SourceFile, nil
		}
		if !errors.Is(err, ErrNoCredentials) {
			return "", "", err
		}
	}
	return "", "", ErrNoCredentials
}

// Delete removes account from the keyring and the fallback file.
func (s *Store) Delete(account string) error {
	if err := keyring.Delete(keyringService, account); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		if s.keyProvider == nil {
			return fmt.Errorf("%w: %v", ErrKeyringUnavailable, err)
		}
	}

	data, err := s.readFile()
	if errors.Is(err, ErrNoCredentials) {
		return nil
	}
	if err != nil {
		return err
	}
	if _, ok := data.Passwords[account]; !ok {
		return nil
	}
	delete(data.Passwords, account)
	return s.writeFile(data)
}

func (s *Store) readFile() (*fileData, error) {
	raw, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoCredentials
		}
		return nil, fmt.Errorf("reading credentials file: %w", err)
	}
	var data fileData
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("parsing credentials: %w", err)
	}
	return &data, nil
}

func (s *Store) writeFile(data *fileData) error {
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return fmt.Errorf("creating credentials directory: %w", err)
	}
	data.LastUpdated = time.Now().UTC()
	raw, err := yaml.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshaling credentials: %w", err)
	}
	if err := os.WriteFile(s.Path(), raw, 0600); err != nil {
		return fmt.Errorf("writing credentials file: %w", err)
	}
	return nil
}

func (s *Store) fileKey(data *fileData) ([]byte, error) {
	salt, err := hex.DecodeString(data.Salt)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid salt: %v", ErrEncryptionFailed, err)
	}
	return s.keyProvider.Key(salt)
}

func (s *Store) saveFile(account, password string) error {
	data, err := s.readFile()
	if errors.Is(err, ErrNoCredentials) {
		salt, serr := GenerateSalt()
		if serr != nil {
			return serr
		}
		data, err = &fileData{Salt: hex.EncodeToString(salt)}, nil
	}
	if err != nil {
		return err
	}
	if data.Passwords == nil {
		data.Passwords = make(map[string]string)
	}

	key, err := s.fileKey(data)
	if err != nil {
		return err
	}
	encrypted, err := encrypt(key, password)
	if err != nil {
		return fmt.Errorf("encrypting password: %w", err)
	}
	data.Passwords[account] = encrypted
	return s.writeFile(data)
}

func (s *Store) loadFile(account string) (string, error) {
	data, err := s.readFile()
	if err != nil {
		return "", err
	}
	encrypted, ok := data.Passwords[account]
	if !ok {
		return "", ErrNoCredentials
	}
	key, err := s.fileKey(data)
	if err != nil {
		return "", err
	}
	password, err := decrypt(key, encrypted)
	if err != nil {
		return "", fmt.Errorf("decrypting password: %w", err)
	}
	return password, nil
}

// encrypt encrypts a string using AES-GCM.
func encrypt(key []byte, plaintext string) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("%w: creating cipher: %v", ErrEncryptionFailed, err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("%w: creating GCM: %v", ErrEncryptionFailed, err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("%w: generating nonce: %v", ErrEncryptionFailed, err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// decrypt decrypts an AES-GCM encrypted string.
func decrypt(key []byte, ciphertext string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: decoding base64: %v", ErrEncryptionFailed, err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("%w: creating cipher: %v", ErrEncryptionFailed, err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("%w: creating GCM: %v", ErrEncryptionFailed, err)
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("%w: ciphertext too short", ErrEncryptionFailed)
	}

	nonce, body := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, body, nil)
	if err != nil {
		return "", fmt.Errorf("%w: decryption failed: %v", ErrEncryptionFailed, err)
	}

	return string(plaintext), nil
}

// KeyringDescription names the platform keyring.
func KeyringDescription() string {
	switch runtime.GOOS {
	case "darwin":
		return "macOS Keychain"
	case "windows":
		return "Windows Credential Manager"
	default:
		return "System Keyring (Secret Service)"
	}
}

// MaskCredential returns a masked version of the credential for display.
func MaskCredential(cred string) string {
	if len(cred) <= 8 {
		return strings.Repeat("*", len(cred))
	}
	return cred[:2] + strings.Repeat("*", len(cred)-4) + cred[len(cred)-2:]
}
