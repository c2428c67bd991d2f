package backup

import "errors"

var (
	ErrNotRunning       = errors.New("server is not running")
	ErrBackupInProgress = errors.New("a backup is already in progress")
	ErrManifestParse    = errors.New("failed to parse backup manifest")
	ErrFileCopy         = errors.New("failed to copy world file")
	ErrTruncate         = errors.New("failed to truncate world file")
	ErrBackupTimedOut   = errors.New("timed out waiting for the server to save")
	ErrAborted          = errors.New("backup aborted")
	ErrServerStopped    = errors.New("server stopped during backup")
)
