package database

// Migration represents a database migration
type Migration struct {
	Version string
	Up      string
	Down    string
}

// migrations contains all database migrations in order
var migrations = []Migration{
	{
		Version: "001_activity_log",
		Up: `
-- Supervisor and backup activity, fed from the event bus
CREATE TABLE activity_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    activity_type TEXT NOT NULL,        -- 'server.lifecycle', 'server.stopped', 'backup.phase', etc.
    description TEXT,
    metadata TEXT,                       -- JSON for additional context
    success BOOLEAN DEFAULT 1,
    error_message TEXT
);

CREATE INDEX idx_activity_time ON activity_log(timestamp DESC);
CREATE INDEX idx_activity_type_time ON activity_log(activity_type, timestamp DESC);
`,
		Down: `
DROP TABLE IF EXISTS activity_log;
`,
	},
	{
		Version: "002_backups",
		Up: `
-- One row per backup job
CREATE TABLE backups (
    id TEXT PRIMARY KEY,
    job_id INTEGER NOT NULL,
    directory TEXT NOT NULL,
    level_name TEXT NOT NULL DEFAULT '',
    file_count INTEGER NOT NULL DEFAULT 0,
    total_bytes INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL DEFAULT 'creating',  -- 'creating', 'completed', 'failed', 'pruned'
    error_message TEXT,
    archive_path TEXT,
    metadata TEXT,                            -- JSON: manifest, uploaded destinations
    started_at DATETIME NOT NULL,
    completed_at DATETIME
);

CREATE INDEX idx_backups_started ON backups(started_at DESC);
CREATE INDEX idx_backups_status ON backups(status);
`,
		Down: `
DROP TABLE IF EXISTS backups;
`,
	},
	{
		Version: "003_server_metrics",
		Up: `
-- Resource samples of the supervised process
CREATE TABLE server_metrics (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp DATETIME NOT NULL,
    pid INTEGER NOT NULL,
    cpu_percent REAL NOT NULL DEFAULT 0,
    memory_bytes INTEGER NOT NULL DEFAULT 0,
    uptime_seconds INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX idx_server_metrics_time ON server_metrics(timestamp DESC);
`,
		Down: `
DROP TABLE IF EXISTS server_metrics;
`,
	},
}
