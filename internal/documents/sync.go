package documents

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/kalambet/agentflow/internal/storage"
)

// SyncJobType is the job queue type for GitHub re-imports.
const SyncJobType = "github_sync"

var blobURLPattern = regexp.MustCompile(`^https://github\.com/[^/]+/[^/]+/blob/(.+)$`)

// SyncReport summarizes a GitHub sync pass.
type SyncReport struct {
	Checked   int `json:"checked"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Failed    int `json:"failed"`
}

// SyncGitHub re-imports every GitHub-sourced document that belongs to the
// repository gh reads, so files whose SHA changed are updated. Individual
// failures are collected and do not stop the pass.
func (s *Service) SyncGitHub(ctx context.Context, gh GitHubSource) (SyncReport, error) {
	docs, err := s.store.ListDocuments(ctx, storage.DocumentFilter{Type: storage.DocTypeGitHub})
	if err != nil {
		return SyncReport{}, fmt.Errorf("listing github documents: %w", err)
	}

	var report SyncReport
	if len(docs) == 0 {
		return report, nil
	}
	branches, err := gh.Branches(ctx)
	s.countIntegration("github", err)
	if err != nil {
		return report, fmt.Errorf("listing branches: %w", err)
	}

	var errs []error
	for _, d := range docs {
		m := blobURLPattern.FindStringSubmatch(d.URL)
		if m == nil {
			continue
		}
		branch, path, ok := splitBlobPath(m[1], branches)
		if !ok || gh.BlobURL(branch, path) != d.URL {
			continue
		}

		if report.Checked > 0 {
			if err := s.sleep(ctx, s.callDelay); err != nil {
				return report, err
			}
		}
		report.Checked++

		f, err := gh.File(ctx, branch, path)
		s.countIntegration("github", err)
		if err != nil {
			report.Failed++
			errs = append(errs, fmt.Errorf("%s: %w", d.URL, err))
			continue
		}
		out, err := s.Import(ctx, storage.Document{
			Name:   d.Name,
			Type:   storage.DocTypeGitHub,
			URL:    d.URL,
			Text:   f.Content,
			SHA:    f.SHA,
			TeamID: d.TeamID,
		})
		if err != nil {
			report.Failed++
			errs = append(errs, fmt.Errorf("%s: %w", d.URL, err))
			continue
		}
		if out.Result == Updated {
			report.Updated++
		} else {
			report.Unchanged++
		}
	}

	s.logger.Info("github sync finished",
		"checked", report.Checked, "updated", report.Updated, "unchanged", report.Unchanged, "failed", report.Failed)
	return report, errors.Join(errs...)
}

// splitBlobPath splits the "<branch>/<path>" tail of a blob URL. Branch names
// may contain slashes, so the longest known branch prefixing rest wins. A
// branch that no longer exists falls back to the first path segment.
func splitBlobPath(rest string, branches []string) (branch, path string, ok bool) {
	for _, b := range branches {
		if len(b) > len(branch) && strings.HasPrefix(rest, b+"/") {
			branch = b
		}
	}
	if branch == "" {
		return strings.Cut(rest, "/")
	}
	return branch, rest[len(branch)+1:], true
}

// SyncJob returns a job handler that runs SyncGitHub against the repository
// source resolves at run time.
func (s *Service) SyncJob(source func() (GitHubSource, error)) func(ctx context.Context, job *storage.Job) error {
	return func(ctx context.Context, job *storage.Job) error {
		gh, err := source()
		if err != nil {
			return fmt.Errorf("resolving github source: %w", err)
		}
		_, err = s.SyncGitHub(ctx, gh)
		return err
	}
}
