package crypto

import (
	"bytes"
	"testing"
)

// testKey returns a valid 32-byte key for use in tests.
func testKey() []byte {
	return bytes.Repeat([]byte("k"), 32)
}

func TestNewArchiveCipher(t *testing.T) {
	t.Run("valid 32-byte key", func(t *testing.T) {
		ac, err := NewArchiveCipher(testKey())
		if err != nil {
			t.Fatalf("NewArchiveCipher() unexpected error: %v", err)
		}
		if ac == nil {
			t.Fatal("NewArchiveCipher() returned nil cipher")
		}
	})

	tests := []struct {
		name    string
		keyLen  int
		wantErr error
	}{
		{"too short (16 bytes)", 16, ErrKeyLengthInvalid},
		{"too long (64 bytes)", 64, ErrKeyLengthInvalid},
		{"empty key", 0, ErrKeyLengthInvalid},
		{"31 bytes", 31, ErrKeyLengthInvalid},
		{"33 bytes", 33, ErrKeyLengthInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewArchiveCipher(make([]byte, tt.keyLen))
			if err != tt.wantErr {
				t.Errorf("NewArchiveCipher(len=%d) error = %v, want %v", tt.keyLen, err, tt.wantErr)
			}
		})
	}
}

func TestNewArchiveCipherIsolatesKey(t *testing.T) {
	// Modifying the original key slice must not affect the cipher.
	key := testKey()
	ac, err := NewArchiveCipher(key)
	if err != nil {
		t.Fatalf("NewArchiveCipher() error: %v", err)
	}
	plaintext := []byte("timestamp,event_type,severity\n")
	sealed, _ := ac.Seal(plaintext)

	// Corrupt the original key
	for i := range key {
		key[i] = 0
	}

	// The cipher should still work with its own copy
	got, err := ac.Open(sealed)
	if err != nil {
		t.Errorf("Open() after key corruption error: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("Open() = %q, want %q", got, plaintext)
	}
}

func TestDeriveArchiveCipher(t *testing.T) {
	t.Run("valid passphrase and salt", func(t *testing.T) {
		salt := bytes.Repeat([]byte("s"), 16)
		ac, err := DeriveArchiveCipher("my-secret-passphrase", salt, 100000)
		if err != nil {
			t.Fatalf("DeriveArchiveCipher() unexpected error: %v", err)
		}
		if ac == nil {
			t.Fatal("DeriveArchiveCipher() returned nil")
		}
	})

	t.Run("salt too short", func(t *testing.T) {
		if _, err := DeriveArchiveCipher("passphrase", []byte("short"), 100000); err != ErrSaltTooShort {
			t.Errorf("DeriveArchiveCipher() error = %v, want %v", err, ErrSaltTooShort)
		}
	})

	t.Run("same inputs derive the same key", func(t *testing.T) {
		salt := bytes.Repeat([]byte("s"), 16)
		ac1, _ := DeriveArchiveCipher("passphrase", salt, 100000)
		ac2, _ := DeriveArchiveCipher("passphrase", salt, 100000)

		sealed, err := ac1.Seal([]byte("report payload"))
		if err != nil {
			t.Fatalf("Seal() error: %v", err)
		}
		got, err := ac2.Open(sealed)
		if err != nil {
			t.Fatalf("Open() with re-derived key error: %v", err)
		}
		if string(got) != "report payload" {
			t.Errorf("Open() = %q, want %q", got, "report payload")
		}
	})

	t.Run("low iteration count is raised to a secure default", func(t *testing.T) {
		salt := bytes.Repeat([]byte("s"), 16)
		ac1, _ := DeriveArchiveCipher("passphrase", salt, 1)
		ac2, _ := DeriveArchiveCipher("passphrase", salt, 100000)

		sealed, _ := ac1.Seal([]byte("x"))
		if _, err := ac2.Open(sealed); err != nil {
			t.Errorf("expected iterations=1 to derive the same key as the default, got %v", err)
		}
	})
}

func TestSealOpenRoundTrip(t *testing.T) {
	ac, err := NewArchiveCipher(testKey())
	if err != nil {
		t.Fatalf("NewArchiveCipher() error: %v", err)
	}

	tests := []struct {
		name      string
		plaintext []byte
	}{
		{"csv payload", []byte("timestamp,event_type,severity\n2026-08-20T09:00:00Z,LOGIN,LOW\n")},
		{"json payload", []byte(`{"total_records":1,"data":[]}`)},
		{"binary-ish payload", []byte{0x00, 0xFF, 0x10, 0x80}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sealed, err := ac.Seal(tt.plaintext)
			if err != nil {
				t.Fatalf("Seal() error: %v", err)
			}
			if bytes.Contains(sealed, tt.plaintext) {
				t.Error("sealed output contains the plaintext")
			}

			got, err := ac.Open(sealed)
			if err != nil {
				t.Fatalf("Open() error: %v", err)
			}
			if !bytes.Equal(got, tt.plaintext) {
				t.Errorf("Open() = %q, want %q", got, tt.plaintext)
			}
		})
	}
}

func TestSealEmptyPlaintext(t *testing.T) {
	ac, _ := NewArchiveCipher(testKey())
	sealed, err := ac.Seal(nil)
	if err != nil {
		t.Fatalf("Seal(nil) error: %v", err)
	}
	if sealed != nil {
		t.Errorf("Seal(nil) = %v, want nil", sealed)
	}
}

func TestSealIsNonDeterministic(t *testing.T) {
	ac, _ := NewArchiveCipher(testKey())
	plaintext := []byte("same input")

	sealed1, _ := ac.Seal(plaintext)
	sealed2, _ := ac.Seal(plaintext)
	if bytes.Equal(sealed1, sealed2) {
		t.Error("two Seal() calls produced identical ciphertext; nonce reuse suspected")
	}
}

func TestOpenRejectsTampering(t *testing.T) {
	ac, _ := NewArchiveCipher(testKey())

	t.Run("flipped ciphertext byte", func(t *testing.T) {
		sealed, _ := ac.Seal([]byte("integrity matters"))
		sealed[len(sealed)-1] ^= 0x01
		if _, err := ac.Open(sealed); err != ErrDecryptionFailed {
			t.Errorf("Open() error = %v, want %v", err, ErrDecryptionFailed)
		}
	})

	t.Run("truncated below nonce size", func(t *testing.T) {
		if _, err := ac.Open([]byte{0x01, 0x02}); err != ErrCiphertextCorrupted {
			t.Errorf("Open() error = %v, want %v", err, ErrCiphertextCorrupted)
		}
	})

	t.Run("wrong key", func(t *testing.T) {
		sealed, _ := ac.Seal([]byte("for someone else"))
		other, _ := NewArchiveCipher(bytes.Repeat([]byte("x"), 32))
		if _, err := other.Open(sealed); err != ErrDecryptionFailed {
			t.Errorf("Open() error = %v, want %v", err, ErrDecryptionFailed)
		}
	})
}

func TestGenerateKey(t *testing.T) {
	key1, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error: %v", err)
	}
	if len(key1) != 32 {
		t.Errorf("GenerateKey() length = %d, want 32", len(key1))
	}

	key2, _ := GenerateKey()
	if bytes.Equal(key1, key2) {
		t.Error("two GenerateKey() calls returned identical keys")
	}

	if _, err := NewArchiveCipher(key1); err != nil {
		t.Errorf("generated key rejected by NewArchiveCipher: %v", err)
	}
}

func TestGenerateSalt(t *testing.T) {
	salt, err := GenerateSalt(8) // below minimum, should be raised to 16
	if err != nil {
		t.Fatalf("GenerateSalt() error: %v", err)
	}
	if len(salt) != 16 {
		t.Errorf("GenerateSalt(8) length = %d, want 16", len(salt))
	}

	salt32, _ := GenerateSalt(32)
	if len(salt32) != 32 {
		t.Errorf("GenerateSalt(32) length = %d, want 32", len(salt32))
	}
}
