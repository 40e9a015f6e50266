// Package contentsync reconciles question banks from configured sources
// (local directories or git repositories) into the database. Questions are
// keyed by their id, so re-syncing an unchanged source is a no-op and
// removed files delete their questions.
package contentsync

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/tedlu-tw/learnwise-demo/internal/domain"
	"github.com/tedlu-tw/learnwise-demo/internal/gitsource"
	"github.com/tedlu-tw/learnwise-demo/internal/ingest"
	"github.com/tedlu-tw/learnwise-demo/internal/metrics"
	"github.com/tedlu-tw/learnwise-demo/internal/storage"
)

// Invalidator drops cached question lists after content changes. May be nil.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// Syncer runs content reconciliation over all configured sources.
type Syncer struct {
	db       *storage.DB
	cache    Invalidator
	metrics  *metrics.Metrics
	reposDir string
}

func New(db *storage.DB, cache Invalidator, m *metrics.Metrics, reposDir string) *Syncer {
	if reposDir == "" {
		reposDir = "repos"
	}
	return &Syncer{db: db, cache: cache, metrics: m, reposDir: reposDir}
}

// Run iterates over all sources and reconciles each one. Per-source
// failures are logged and skipped so one broken source cannot block the
// rest.
func (s *Syncer) Run(ctx context.Context) error {
	sources, err := s.db.GetAllSources(ctx)
	if err != nil {
		return fmt.Errorf("failed to get sources: %w", err)
	}
	if len(sources) == 0 {
		slog.Info("no sources configured, add one with --add-source <path/or/url.git>")
		return nil
	}

	if err := os.MkdirAll(s.reposDir, os.ModePerm); err != nil {
		return fmt.Errorf("failed to create repos directory: %w", err)
	}

	changed := false
	for _, source := range sources {
		slog.Info("syncing source", "id", source.ID, "type", source.Type, "path", source.Path)

		dir := source.Path
		if source.Type == "git" {
			localPath, err := gitURLToLocalPath(s.reposDir, source.Path)
			if err != nil {
				slog.Error("cannot determine local path for git repo", "url", source.Path, "error", err)
				continue
			}
			if err := gitsource.Sync(ctx, source.Path, localPath); err != nil {
				slog.Error("git sync failed", "url", source.Path, "error", err)
				continue
			}
			dir = localPath
		}

		n, err := s.reconcile(ctx, source, dir)
		if err != nil {
			slog.Error("reconciliation failed", "source_id", source.ID, "error", err)
			continue
		}
		if n > 0 {
			changed = true
		}
	}

	if changed && s.cache != nil {
		if err := s.cache.Invalidate(ctx); err != nil {
			slog.Warn("failed to invalidate question cache", "error", err)
		}
	}
	slog.Info("sync complete")
	return nil
}

// reconcile parses every question file under dir, upserts what it finds,
// and deletes questions the source no longer provides. Returns how many
// questions were written.
func (s *Syncer) reconcile(ctx context.Context, source storage.Source, dir string) (int, error) {
	var parsed []domain.Question
	var parseErrors []error
	found := make(map[string]bool)

	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(strings.ToLower(d.Name()), ".json") {
			return nil
		}
		questions, parseErr := ingest.ParseFile(path)
		if parseErr != nil {
			parseErrors = append(parseErrors, fmt.Errorf("parsing %s: %w", path, parseErr))
			return nil
		}
		for _, q := range questions {
			parsed = append(parsed, q)
			found[q.ID] = true
			if upsertErr := s.db.UpsertQuestion(ctx, q, source.ID); upsertErr != nil {
				parseErrors = append(parseErrors, fmt.Errorf("upserting %s: %w", q.ID, upsertErr))
			}
		}
		return nil
	})
	if walkErr != nil {
		return 0, fmt.Errorf("walking %s: %w", dir, walkErr)
	}

	existing, err := s.db.QuestionIDsBySource(ctx, source.ID)
	if err != nil {
		return 0, fmt.Errorf("listing questions for source %d: %w", source.ID, err)
	}

	var orphaned int
	for _, id := range existing {
		if !found[id] {
			slog.Info("orphaned question, deleting", "id", id)
			orphaned++
			if err := s.db.DeleteQuestion(ctx, id); err != nil {
				slog.Warn("failed to delete orphaned question", "id", id, "error", err)
			}
		}
	}

	if err := s.db.UpdateSourceLastScanned(ctx, source.ID); err != nil {
		slog.Warn("failed to update last scanned for source", "source_id", source.ID, "error", err)
	}

	s.metrics.QuestionsSynced(len(parsed))
	slog.Info("reconciliation complete",
		"path", dir,
		"parsed_questions", len(parsed),
		"orphaned_deleted", orphaned,
		"errors", len(parseErrors),
	)
	return len(parsed), nil
}

// gitURLToLocalPath maps a clone URL to a stable path under baseDir so
// repeated syncs reuse the same clone.
func gitURLToLocalPath(baseDir, repoURL string) (string, error) {
	parsedURL, err := url.Parse(repoURL)
	if err != nil || (parsedURL.Scheme != "https" && parsedURL.Scheme != "http") {
		// scp-like syntax: git@host:user/repo.git
		if strings.Contains(repoURL, "@") {
			parts := strings.Split(repoURL, ":")
			if len(parts) == 2 {
				hostAndUser := strings.Split(parts[0], "@")
				if len(hostAndUser) == 2 {
					host := hostAndUser[1]
					repoPath := strings.TrimSuffix(parts[1], ".git")
					return filepath.Join(baseDir, host, repoPath), nil
				}
			}
		}
		return "", fmt.Errorf("could not parse git URL: %s", repoURL)
	}

	sanitizedPath := strings.TrimSuffix(parsedURL.Path, ".git")
	return filepath.Join(baseDir, parsedURL.Host, sanitizedPath), nil
}
