package backup

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/yourusername/bedrock-server-manager/internal/logging"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// knownHostsMu serializes trust-on-first-use appends from concurrent uploads.
var knownHostsMu sync.Mutex

// NewHostKeyCallback verifies SFTP hosts against a known_hosts file. Unknown
// hosts are recorded when trustOnFirstUse is set; changed keys are always
// rejected.
func NewHostKeyCallback(knownHostsPath string, trustOnFirstUse bool) (ssh.HostKeyCallback, error) {
	if strings.TrimSpace(knownHostsPath) == "" {
		return nil, fmt.Errorf("known_hosts path is required")
	}

	if err := ensureKnownHostsFile(knownHostsPath); err != nil {
		return nil, err
	}

	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		knownHostsMu.Lock()
		defer knownHostsMu.Unlock()

		// Reload so hosts accepted by another callback are seen
		check, err := knownhosts.New(knownHostsPath)
		if err != nil {
			return fmt.Errorf("failed to read known_hosts: %w", err)
		}

		err = check(hostname, remote, key)
		if err == nil {
			return nil
		}

		var keyErr *knownhosts.KeyError
		if !errors.As(err, &keyErr) {
			return err
		}

		fingerprint := ssh.FingerprintSHA256(key)
		if len(keyErr.Want) > 0 {
			logging.L().Warn("ssh_host_key_changed", "host", hostname, "fingerprint", fingerprint)
			return fmt.Errorf("SSH host key changed for %s", hostname)
		}

		if !trustOnFirstUse {
			return fmt.Errorf("unknown SSH host key for %s", hostname)
		}

		line := knownhosts.Line(knownHostsNames(hostname, remote), key)
		if err := appendLine(knownHostsPath, line); err != nil {
			return err
		}

		logging.L().Info("ssh_host_key_accepted", "host", hostname, "fingerprint", fingerprint)
		return nil
	}, nil
}

func ensureKnownHostsFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create known_hosts directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to create known_hosts file: %w", err)
	}
	return file.Close()
}

func appendLine(path, line string) error {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open known_hosts file: %w", err)
	}
	defer file.Close()

	if _, err := file.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("failed to write known_hosts entry: %w", err)
	}
	return nil
}

// knownHostsNames lists the dialled name and, when different, the remote IP.
func knownHostsNames(hostname string, remote net.Addr) []string {
	names := []string{knownhosts.Normalize(hostname)}
	if remote == nil {
		return names
	}
	if addr := knownhosts.Normalize(remote.String()); addr != names[0] {
		names = append(names, addr)
	}
	return names
}
