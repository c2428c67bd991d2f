package backup

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path"
	"strconv"
	"time"

	"github.com/pkg/sftp"
	"github.com/yourusername/bedrock-server-manager/internal/config"
	"golang.org/x/crypto/ssh"
)

// SFTPDestination stores archives on a remote host over SFTP
type SFTPDestination struct {
	host       string
	basePath   string
	sshClient  *ssh.Client
	sftpClient *sftp.Client
}

// NewSFTPDestination connects to the remote host
func NewSFTPDestination(dest config.DestinationConfig, sshCfg config.SSHConfig) (*SFTPDestination, error) {
	hostKeyCallback, err := NewHostKeyCallback(sshCfg.KnownHostsPath, sshCfg.TrustOnFirstUse)
	if err != nil {
		return nil, fmt.Errorf("failed to configure host key verification: %w", err)
	}

	auth, err := sftpAuthMethods(dest)
	if err != nil {
		return nil, err
	}

	clientConfig := &ssh.ClientConfig{
		User:            dest.Username,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         30 * time.Second,
	}

	port := dest.Port
	if port == 0 {
		port = 22
	}
	addr := dest.Host + ":" + strconv.Itoa(port)
	log.Printf("[SFTPDest] Connecting to %s...", addr)

	sshClient, err := ssh.Dial("tcp", addr, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SSH server: %w", err)
	}

	sftpClient, err := sftp.NewClient(sshClient,
		sftp.MaxPacketUnchecked(131072),
		sftp.UseConcurrentWrites(true),
		sftp.MaxConcurrentRequestsPerFile(64),
	)
	if err != nil {
		sshClient.Close()
		return nil, fmt.Errorf("failed to create SFTP client: %w", err)
	}

	sd := &SFTPDestination{host: addr, basePath: dest.Path, sshClient: sshClient, sftpClient: sftpClient}
	if err := sftpClient.MkdirAll(dest.Path); err != nil {
		sd.Close()
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	log.Printf("[SFTPDest] Connected successfully")
	return sd, nil
}

func sftpAuthMethods(dest config.DestinationConfig) ([]ssh.AuthMethod, error) {
	if dest.KeyPath != "" {
		keyData, err := os.ReadFile(dest.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read SSH key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(keyData)
		if err != nil {
			return nil, fmt.Errorf("failed to parse SSH key: %w", err)
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	}
	if dest.Password != "" {
		return []ssh.AuthMethod{ssh.Password(dest.Password)}, nil
	}
	return nil, fmt.Errorf("no authentication method provided for SFTP")
}

// Close closes the SFTP and SSH connections
func (sd *SFTPDestination) Close() error {
	if sd.sftpClient != nil {
		sd.sftpClient.Close()
	}
	if sd.sshClient != nil {
		return sd.sshClient.Close()
	}
	return nil
}

// Upload writes the archive under a dot-prefixed name and renames it once
// complete, so List never sees a partial upload.
func (sd *SFTPDestination) Upload(ctx context.Context, filename string, reader io.Reader, sizeBytes int64) error {
	destPath := path.Join(sd.basePath, filename)
	tmpPath := path.Join(sd.basePath, "."+filename+".partial")

	file, err := sd.sftpClient.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create remote file: %w", err)
	}

	written, err := file.ReadFrom(&contextReader{ctx: ctx, r: reader})
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err == nil && written != sizeBytes {
		err = fmt.Errorf("size mismatch: expected %d bytes, wrote %d bytes", sizeBytes, written)
	}
	if err == nil {
		err = sd.sftpClient.PosixRename(tmpPath, destPath)
	}
	if err != nil {
		sd.sftpClient.Remove(tmpPath)
		return fmt.Errorf("sftp upload of %s: %w", filename, err)
	}

	log.Printf("[SFTPDest] Stored %s on %s (%d bytes)", destPath, sd.host, written)
	return nil
}

// Delete removes an archive from the remote directory
func (sd *SFTPDestination) Delete(ctx context.Context, filename string) error {
	if err := sd.sftpClient.Remove(path.Join(sd.basePath, filename)); err != nil {
		return fmt.Errorf("failed to delete remote file: %w", err)
	}
	return nil
}

// List returns all archives in the remote directory
func (sd *SFTPDestination) List(ctx context.Context) ([]BackupFile, error) {
	entries, err := sd.sftpClient.ReadDir(sd.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read remote directory: %w", err)
	}

	var files []BackupFile
	for _, entry := range entries {
		if !entry.Mode().IsRegular() || !isArchiveName(entry.Name()) {
			continue
		}
		files = append(files, BackupFile{
			Filename:  entry.Name(),
			SizeBytes: entry.Size(),
			CreatedAt: entry.ModTime().Unix(),
		})
	}
	sortNewestFirst(files)
	return files, nil
}

// GetType returns the destination type
func (sd *SFTPDestination) GetType() string {
	return "sftp"
}
