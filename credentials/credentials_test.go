package credentials

import (
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/zalando/go-keyring"
	"gopkg.in/yaml.v3"
)

func TestAccount(t *testing.T) {
	if got := Account("bookpipe", "db.local", 5432); got != "bookpipe@db.local:5432" {
		t.Errorf("Account() = %q", got)
	}
}

func TestStore_KeyringRoundTrip(t *testing.T) {
	keyring.MockInit()
	t.Setenv(EnvPassword, "")

	s := NewStore(t.TempDir(), nil)
	account := Account("u", "h", 5432)

	src, err := s.Save(account, "s3cret")
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if src != SourceKeyring {
		t.Errorf("Save() source = %q, want keyring", src)
	}

	got, src, err := s.Lookup(account)
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if got != "s3cret" || src != SourceKeyring {
		t.Errorf("Lookup() = %q from %q", got, src)
	}

	if err := s.Delete(account); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, _, err := s.Lookup(account); !errors.Is(err, ErrNoCredentials) {
		t.Errorf("Lookup() after delete error = %v, want ErrNoCredentials", err)
	}
}

func TestStore_EnvOverride(t *testing.T) {
	keyring.MockInit()
	t.Setenv(EnvPassword, "from-env")

	s := NewStore(t.TempDir(), nil)
	if _, err := s.Save("a", "from-keyring"); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, src, err := s.Lookup("a")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if got != "from-env" || src != SourceEnv {
		t.Errorf("Lookup() = %q from %q, want env value", got, src)
	}
}

func TestStore_NoCredentials(t *testing.T) {
	keyring.MockInit()
	t.Setenv(EnvPassword, "")

	_, _, err := NewStore(t.TempDir(), nil).Lookup("missing")
	if !errors.Is(err, ErrNoCredentials) {
		t.Errorf("Lookup() error = %v, want ErrNoCredentials", err)
	}
}

func TestStore_KeyringUnavailableWithoutFallback(t *testing.T) {
	keyring.MockInitWithError(errors.New("no dbus"))
	t.Setenv(EnvPassword, "")

	s := NewStore(t.TempDir(), nil)
	if _, err := s.Save("a", "pw"); !errors.Is(err, ErrKeyringUnavailable) {
		t.Errorf("Save() error = %v, want ErrKeyringUnavailable", err)
	}
	if _, _, err := s.Lookup("a"); !errors.Is(err, ErrKeyringUnavailable) {
		t.Errorf("Lookup() error = %v, want ErrKeyringUnavailable", err)
	}
}

func TestStore_FileFallback(t *testing.T) {
	keyring.MockInitWithError(errors.New("no dbus"))
	t.Setenv(EnvPassword, "")
	t.Setenv("BOOKPIPE_TEST_KEY", testEncryptionKey)

	dir := t.TempDir()
	s := NewStore(dir, NewEnvKeyProvider("BOOKPIPE_TEST_KEY"))

	src, err := s.Save("a", "pw-a")
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if src != SourceFile {
		t.Errorf("Save() source = %q, want file", src)
	}
	if _, err := s.Save("b", "pw-b"); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	raw, err := os.ReadFile(s.Path())
	if err != nil {
		t.Fatalf("read credentials file: %v", err)
	}
	if strings.Contains(string(raw), "pw-a") {
		t.Error("password stored in plaintext")
	}
	var data fileData
	if err := yaml.Unmarshal(raw, &data); err != nil {
		t.Fatalf("parse credentials file: %v", err)
	}
	if len(data.Passwords) != 2 || data.Salt == "" {
		t.Errorf("file data = %+v", data)
	}

	info, _ := os.Stat(s.Path())
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("permissions = %o, want 600", perm)
	}

	got, src, err := s.Lookup("a")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if got != "pw-a" || src != SourceFile {
		t.Errorf("Lookup() = %q from %q", got, src)
	}

	if err := s.Delete("a"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, _, err := s.Lookup("a"); !errors.Is(err, ErrNoCredentials) {
		t.Errorf("Lookup(a) after delete error = %v", err)
	}
	if got, _, err := s.Lookup("b"); err != nil || got != "pw-b" {
		t.Errorf("Lookup(b) = %q, %v", got, err)
	}
}

func TestStore_FileWrongPassphrase(t *testing.T) {
	keyring.MockInitWithError(errors.New("no dbus"))
	t.Setenv(EnvPassword, "")

	dir := t.TempDir()
	if _, err := NewStore(dir, NewPassphraseKeyProvider("right")).Save("a", "pw"); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	_, _, err := NewStore(dir, NewPassphraseKeyProvider("wrong")).Lookup("a")
	if !errors.Is(err, ErrEncryptionFailed) {
		t.Errorf("Lookup() error = %v, want ErrEncryptionFailed", err)
	}
}

func TestEncryption(t *testing.T) {
	key := make([]byte, keyLength)
	for i := range key {
		key[i] = byte(i)
	}

	ct1, err := encrypt(key, "plaintext")
	if err != nil {
		t.Fatalf("encrypt() error = %v", err)
	}
	ct2, _ := encrypt(key, "plaintext")
	if ct1 == ct2 {
		t.Error("nonce should make ciphertexts differ")
	}

	pt, err := decrypt(key, ct1)
	if err != nil {
		t.Fatalf("decrypt() error = %v", err)
	}
	if pt != "plaintext" {
		t.Errorf("decrypt() = %q", pt)
	}

	if _, err := decrypt(key, "not-base64!"); !errors.Is(err, ErrEncryptionFailed) {
		t.Errorf("decrypt(garbage) error = %v", err)
	}
	if _, err := decrypt(key, "YWJj"); !errors.Is(err, ErrEncryptionFailed) {
		t.Errorf("decrypt(short) error = %v", err)
	}
}

func TestMaskCredential(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"short", "*****"},
		{"12345678", "********"},
		{"longpassword", "lo********rd"},
	}
	for _, tc := range tests {
		if got := MaskCredential(tc.in); got != tc.want {
			t.Errorf("MaskCredential(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
