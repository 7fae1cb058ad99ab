// Package backup ships database snapshots and finished daily track files to
// a Google Cloud Storage bucket.
package backup

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/jonboulle/clockwork"
	"google.golang.org/api/option"

	"aero_alerts/internal/store"
)

// Config holds backup destination settings.
type Config struct {
	Bucket          string
	Prefix          string
	CredentialsFile string

	// SQLitePath is the database file to snapshot; empty under postgres.
	SQLitePath string
	// SaveFolder is scanned for finished daily track files.
	SaveFolder string
}

// exported alongside the raw database file so the snapshot is usable
// without sqlite tooling.
var exportTables = []string{"airports", "flights", "registrations"}

// Uploader performs one backup run: the database file, per-table CSV
// exports, and every daily track file on disk. Local track files from
// previous days are deleted only after their upload succeeds.
type Uploader struct {
	client *storage.Client
	cfg    Config
	store  store.Store
	clock  clockwork.Clock
	logger *slog.Logger
}

// NewUploader creates an uploader. Credentials fall back to the ambient
// service account when no file is configured.
func NewUploader(ctx context.Context, cfg Config, st store.Store, clock clockwork.Clock, logger *slog.Logger) (*Uploader, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}

	return &Uploader{client: client, cfg: cfg, store: st, clock: clock, logger: logger}, nil
}

// Close releases the storage client.
func (u *Uploader) Close() error {
	return u.client.Close()
}

// Run performs a full backup. Failures are logged per artifact; one bad
// upload never aborts the rest.
func (u *Uploader) Run(ctx context.Context) {
	u.logger.Info("starting backup run", "bucket", u.cfg.Bucket)

	if u.cfg.SQLitePath != "" {
		if err := u.uploadFile(ctx, u.objectName(filepath.Base(u.cfg.SQLitePath)), u.cfg.SQLitePath); err != nil {
			u.logger.Warn("database snapshot upload failed", "error", err)
		} else {
			u.logger.Info("database snapshot uploaded")
		}
	}

	for _, table := range exportTables {
		if err := u.uploadTable(ctx, table); err != nil {
			u.logger.Warn("table export upload failed", "table", table, "error", err)
		} else {
			u.logger.Info("table export uploaded", "table", table)
		}
	}

	u.uploadTrackFiles(ctx)
}

func (u *Uploader) uploadTable(ctx context.Context, table string) error {
	obj := u.client.Bucket(u.cfg.Bucket).Object(u.objectName(table + ".csv"))
	w := obj.NewWriter(ctx)
	w.ContentType = "text/csv"

	if err := u.store.ExportCSV(ctx, table, w); err != nil {
		_ = w.Close()
		return fmt.Errorf("export %s: %w", table, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finish upload: %w", err)
	}
	return nil
}

// uploadTrackFiles ships every daily track csv and prunes local copies of
// finished days.
func (u *Uploader) uploadTrackFiles(ctx context.Context) {
	today := "tracks-" + u.clock.Now().Format("2006-01-02") + ".csv"

	entries, err := os.ReadDir(u.cfg.SaveFolder)
	if err != nil {
		u.logger.Warn("reading save folder failed", "error", err)
		return
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "tracks-") || !strings.HasSuffix(name, ".csv") {
			continue
		}

		path := filepath.Join(u.cfg.SaveFolder, name)
		if err := u.uploadFile(ctx, u.objectName(name), path); err != nil {
			u.logger.Warn("track file upload failed", "file", name, "error", err)
			continue
		}
		u.logger.Debug("track file uploaded", "file", name)

		// Today's file is still being written to; keep it.
		if name != today {
			if err := os.Remove(path); err != nil {
				u.logger.Warn("removing uploaded track file failed", "file", name, "error", err)
			}
		}
	}
}

func (u *Uploader) uploadFile(ctx context.Context, object, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	w := u.client.Bucket(u.cfg.Bucket).Object(object).NewWriter(ctx)
	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return fmt.Errorf("copy to object: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finish upload: %w", err)
	}
	return nil
}

func (u *Uploader) objectName(name string) string {
	if u.cfg.Prefix == "" {
		return name
	}
	return strings.TrimSuffix(u.cfg.Prefix, "/") + "/" + name
}
