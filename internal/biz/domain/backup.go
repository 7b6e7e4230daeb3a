package domain

import "time"

const (
	BackupFormat  = "notify-reply-bridge/backup"
	BackupVersion = "1"
)

// BackupManifest is the header of a backup document
type BackupManifest struct {
	Format        string         `json:"format"`
	Version       string         `json:"version"`
	SchemaVersion uint           `json:"schema_version,omitempty"` // Database migration the rows were read at
	BackupID      string         `json:"backup_id"`
	ExportedAt    time.Time      `json:"exported_at"`
	Counts        map[string]int `json:"counts,omitempty"`
}

// Compatible checks if a manifest can be restored by this build
func (m *BackupManifest) Compatible() bool {
	return m.Format == BackupFormat && m.Version == BackupVersion
}

// ArchiveName is the object name used for a backup
func (m *BackupManifest) ArchiveName(encrypted bool) string {
	name := "backup-" + m.ExportedAt.UTC().Format("20060102T150405Z") + "-" + m.BackupID + ".json"
	if encrypted {
		name += ".age"
	}
	return name
}
