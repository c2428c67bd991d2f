package backup

import (
	"crypto/ed25519"
	"crypto/rand"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/crypto/ssh"
)

func TestHostKeyCallbackTrustOnFirstUse(t *testing.T) {
	knownHostsPath := filepath.Join(t.TempDir(), "nested", "known_hosts")

	callback, err := NewHostKeyCallback(knownHostsPath, true)
	if err != nil {
		t.Fatalf("failed to create callback: %v", err)
	}

	key1 := generateTestPublicKey(t)
	addr := &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 22}

	if err := callback("backups.example.com:22", addr, key1); err != nil {
		t.Fatalf("expected first key to be accepted, got %v", err)
	}
	// the same key is known now
	if err := callback("backups.example.com:22", addr, key1); err != nil {
		t.Fatalf("expected recorded key to verify, got %v", err)
	}

	data, err := os.ReadFile(knownHostsPath)
	if err != nil {
		t.Fatalf("expected known_hosts file to exist: %v", err)
	}
	if !strings.Contains(string(data), "backups.example.com") {
		t.Fatalf("known_hosts does not list the host: %q", data)
	}

	key2 := generateTestPublicKey(t)
	if err := callback("backups.example.com:22", addr, key2); err == nil {
		t.Fatalf("expected host key change to be rejected")
	}
}

func TestHostKeyCallbackRejectsUnknownWhenDisabled(t *testing.T) {
	knownHostsPath := filepath.Join(t.TempDir(), "known_hosts")

	callback, err := NewHostKeyCallback(knownHostsPath, false)
	if err != nil {
		t.Fatalf("failed to create callback: %v", err)
	}

	addr := &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 2222}
	if err := callback("backups.example.com:2222", addr, generateTestPublicKey(t)); err == nil {
		t.Fatalf("expected unknown host key to be rejected")
	}
}

func TestHostKeyCallbackRequiresPath(t *testing.T) {
	if _, err := NewHostKeyCallback(" ", true); err == nil {
		t.Fatalf("expected an error for an empty known_hosts path")
	}
}

func generateTestPublicKey(t *testing.T) ssh.PublicKey {
	t.Helper()
	public, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	pubKey, err := ssh.NewPublicKey(public)
	if err != nil {
		t.Fatalf("failed to create public key: %v", err)
	}
	return pubKey
}
