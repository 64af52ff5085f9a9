package credentials

import (
	"strings"
	"testing"
)

// testEncryptionKey is a fixed 32-byte key for testing (hex-encoded to 64 chars)
const testEncryptionKey = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

func TestEnvKeyProvider_Key(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		wantErr string
	}{
		{name: "valid", value: testEncryptionKey},
		{name: "unset", value: "", wantErr: "not set"},
		{name: "not hex", value: "zz", wantErr: "invalid key"},
		{name: "too short", value: "abcd", wantErr: "must be 32 bytes"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("BOOKPIPE_TEST_KEY", tc.value)
			key, err := NewEnvKeyProvider("BOOKPIPE_TEST_KEY").Key(nil)
			if tc.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
					t.Errorf("Key() error = %v, want containing %q", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Key() error = %v", err)
			}
			if len(key) != keyLength {
				t.Errorf("Key() returned %d bytes, want %d", len(key), keyLength)
			}
		})
	}
}

func TestEnvKeyProvider_Description(t *testing.T) {
	desc := NewEnvKeyProvider(EnvEncryptionKey).Description()
	if !strings.Contains(desc, EnvEncryptionKey) {
		t.Errorf("Description() = %q, should mention %q", desc, EnvEncryptionKey)
	}
}

func TestPassphraseKeyProvider_Key(t *testing.T) {
	salt, err := GenerateSalt()
	if err != nil {
		t.Fatalf("GenerateSalt() error = %v", err)
	}

	t.Run("valid passphrase and salt", func(t *testing.T) {
		key, err := NewPassphraseKeyProvider("my-secure-passphrase").Key(salt)
		if err != nil {
			t.Fatalf("Key() error = %v", err)
		}
		if len(key) != keyLength {
			t.Errorf("Key() returned %d bytes, want %d", len(key), keyLength)
		}
	})

	t.Run("same passphrase and salt produces same key", func(t *testing.T) {
		key1, _ := NewPassphraseKeyProvider("test-passphrase").Key(salt)
		key2, _ := NewPassphraseKeyProvider("test-passphrase").Key(salt)
		if string(key1) != string(key2) {
			t.Error("Same passphrase and salt should produce same key")
		}
	})

	t.Run("different salts produce different keys", func(t *testing.T) {
		other, _ := GenerateSalt()
		key1, _ := NewPassphraseKeyProvider("test-passphrase").Key(salt)
		key2, _ := NewPassphraseKeyProvider("test-passphrase").Key(other)
		if string(key1) == string(key2) {
			t.Error("Different salts should produce different keys")
		}
	})

	t.Run("empty passphrase", func(t *testing.T) {
		if _, err := NewPassphraseKeyProvider("").Key(salt); err == nil {
			t.Error("Key() should fail without a passphrase")
		}
	})

	t.Run("empty salt", func(t *testing.T) {
		if _, err := NewPassphraseKeyProvider("x").Key(nil); err == nil {
			t.Error("Key() should fail without a salt")
		}
	})
}

func TestGenerateSalt(t *testing.T) {
	salt1, err := GenerateSalt()
	if err != nil {
		t.Fatalf("GenerateSalt() error = %v", err)
	}
	if len(salt1) != 16 {
		t.Errorf("GenerateSalt() returned %d bytes, want 16", len(salt1))
	}
	salt2, _ := GenerateSalt()
	if string(salt1) == string(salt2) {
		t.Error("GenerateSalt() should produce unique salts")
	}
}

func TestDefaultKeyProvider(t *testing.T) {
	t.Run("none", func(t *testing.T) {
		t.Setenv(EnvEncryptionKey, "")
		t.Setenv(EnvPassphrase, "")
		if p := DefaultKeyProvider(); p != nil {
			t.Errorf("DefaultKeyProvider() = %v, want nil", p.Description())
		}
	})

	t.Run("passphrase", func(t *testing.T) {
		t.Setenv(EnvEncryptionKey, "")
		t.Setenv(EnvPassphrase, "hunter2")
		if _, ok := DefaultKeyProvider().(*PassphraseKeyProvider); !ok {
			t.Error("expected a passphrase provider")
		}
	})

	t.Run("env key wins", func(t *testing.T) {
		t.Setenv(EnvEncryptionKey, testEncryptionKey)
		t.Setenv(EnvPassphrase, "hunter2")
		if _, ok := DefaultKeyProvider().(*EnvKeyProvider); !ok {
			t.Error("expected an env key provider")
		}
	})
}
