package crypto

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("key derivation is slow")
	}

	blob, err := EncryptSecret("the-api-secret", "hunter2")
	if err != nil {
		t.Fatalf("EncryptSecret: %v", err)
	}
	if strings.Contains(string(blob), "the-api-secret") {
		t.Fatal("plaintext leaked into the blob")
	}

	got, err := DecryptSecret(blob, "hunter2")
	if err != nil {
		t.Fatalf("DecryptSecret: %v", err)
	}
	if got != "the-api-secret" {
		t.Fatalf("got %q", got)
	}

	if _, err := DecryptSecret(blob, "wrong-password"); err == nil {
		t.Fatal("wrong password must fail authentication")
	}
}

func TestEncryptSecretValidatesInput(t *testing.T) {
	if _, err := EncryptSecret("", "pw"); err == nil {
		t.Fatal("empty secret accepted")
	}
	if _, err := EncryptSecret("secret", ""); err == nil {
		t.Fatal("empty password accepted")
	}
	if _, err := DecryptSecret([]byte("{}"), ""); err == nil {
		t.Fatal("empty password accepted on decrypt")
	}
}

func TestDecryptSecretRejectsUnknownVersion(t *testing.T) {
	blob := []byte(`{"version": 99, "salt": "", "nonce": "", "ciphertext": ""}`)
	if _, err := DecryptSecret(blob, "pw"); err == nil || !strings.Contains(err.Error(), "version") {
		t.Fatalf("got %v, want version error", err)
	}
}

func TestLoadSecretFile(t *testing.T) {
	if testing.Short() {
		t.Skip("key derivation is slow")
	}

	blob, err := EncryptSecret("file-secret", "pw")
	if err != nil {
		t.Fatalf("EncryptSecret: %v", err)
	}
	path := filepath.Join(t.TempDir(), "secret.json")
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := LoadSecretFile(path, "pw")
	if err != nil {
		t.Fatalf("LoadSecretFile: %v", err)
	}
	if got != "file-secret" {
		t.Fatalf("got %q", got)
	}

	if _, err := LoadSecretFile(filepath.Join(t.TempDir(), "missing.json"), "pw"); err == nil {
		t.Fatal("missing file must error")
	}
}
