package storage

import (
	"context"
	"fmt"
	"log/slog"
)

// sqlite3 only maps the exact declared type "timestamp" to time.Time
func timestampType(driver string) string {
	if driver == "sqlite3" {
		return "TIMESTAMP"
	}
	return "TIMESTAMPTZ"
}

func schema(driver string) []string {
	ts := timestampType(driver)
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS jobs (
			id                  VARCHAR(36)  PRIMARY KEY,
			owner_id            VARCHAR(255) NOT NULL,
			original_filename   TEXT         NOT NULL,
			source_ref          TEXT         NOT NULL,
			media_kind          VARCHAR(16)  NOT NULL CHECK (media_kind IN ('image', 'video')),
			mime_type           VARCHAR(255) NOT NULL,
			size_bytes          BIGINT       NOT NULL,
			status              VARCHAR(16)  NOT NULL
				CHECK (status IN ('pending', 'queued', 'processing', 'completed', 'failed')),
			artifact_ref        TEXT,
			artifact_size_bytes BIGINT,
			error_detail        TEXT,
			created_at          %[1]s NOT NULL,
			updated_at          %[1]s NOT NULL,
			completed_at        %[1]s
		)`, ts),
		`CREATE INDEX IF NOT EXISTS idx_jobs_owner_created ON jobs (owner_id, created_at DESC, id DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_status_created ON jobs (status, created_at)`,
	}
}

// Migrate creates the jobs table and its indexes if they do not exist
func (s *Storage) Migrate(ctx context.Context) error {
	driver := s.db.DriverName()
	for _, stmt := range schema(driver) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}

	s.logger.Info("Job store schema is up to date", slog.String("driver", driver))
	return nil
}
