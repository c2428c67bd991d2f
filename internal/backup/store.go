package backup

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

// Record statuses
const (
	StatusCreating  = "creating"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusPruned    = "pruned"
)

// Record represents a backup row in the database
type Record struct {
	ID           string                 `json:"id"`
	JobID        int64                  `json:"job_id"`
	Directory    string                 `json:"directory"`
	LevelName    string                 `json:"level_name"`
	FileCount    int                    `json:"file_count"`
	TotalBytes   int64                  `json:"total_bytes"`
	Status       string                 `json:"status"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	ArchivePath  string                 `json:"archive_path,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	StartedAt    time.Time              `json:"started_at"`
	CompletedAt  *time.Time             `json:"completed_at,omitempty"`
}

// Store persists backup records
type Store struct {
	db *sql.DB
}

// NewStore creates a record store on a migrated database
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create inserts a record for a job that has just started
func (s *Store) Create(jobID int64, directory string, startedAt time.Time) (*Record, error) {
	record := &Record{
		ID:        "backup-" + uuid.New().String()[:8],
		JobID:     jobID,
		Directory: directory,
		Status:    StatusCreating,
		StartedAt: startedAt,
	}
	if err := s.Save(record); err != nil {
		return nil, err
	}
	return record, nil
}

// Save inserts or updates a record
func (s *Store) Save(record *Record) error {
	metadataJSON, err := json.Marshal(record.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO backups
		(id, job_id, directory, level_name, file_count, total_bytes, status,
		 error_message, archive_path, metadata, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		record.ID,
		record.JobID,
		record.Directory,
		record.LevelName,
		record.FileCount,
		record.TotalBytes,
		record.Status,
		record.ErrorMessage,
		record.ArchivePath,
		string(metadataJSON),
		record.StartedAt,
		record.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save backup record: %w", err)
	}
	return nil
}

// List returns records newest first. An empty status lists everything.
func (s *Store) List(status string, limit int) ([]*Record, error) {
	query := `
		SELECT id, job_id, directory, level_name, file_count, total_bytes, status,
		       error_message, archive_path, metadata, started_at, completed_at
		FROM backups
	`
	args := make([]interface{}, 0)
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}
	query += " ORDER BY job_id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query backups: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// Get returns one record by id
func (s *Store) Get(id string) (*Record, error) {
	row := s.db.QueryRow(`
		SELECT id, job_id, directory, level_name, file_count, total_bytes, status,
		       error_message, archive_path, metadata, started_at, completed_at
		FROM backups
		WHERE id = ?
	`, id)

	record, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("backup not found: %s", id)
	}
	return record, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*Record, error) {
	record := &Record{}
	var errorMsg, archivePath, metadataJSON sql.NullString
	var completedAt sql.NullTime

	err := row.Scan(
		&record.ID,
		&record.JobID,
		&record.Directory,
		&record.LevelName,
		&record.FileCount,
		&record.TotalBytes,
		&record.Status,
		&errorMsg,
		&archivePath,
		&metadataJSON,
		&record.StartedAt,
		&completedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan backup record: %w", err)
	}

	record.ErrorMessage = errorMsg.String
	record.ArchivePath = archivePath.String
	if completedAt.Valid {
		t := completedAt.Time
		record.CompletedAt = &t
	}
	if metadataJSON.Valid && metadataJSON.String != "" && metadataJSON.String != "null" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &record.Metadata); err != nil {
			log.Printf("[BackupStore] Warning: Failed to parse metadata: %v", err)
		}
	}

	return record, nil
}
