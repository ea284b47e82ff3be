package documents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/agentflow/internal/integrations/github"
	"github.com/kalambet/agentflow/internal/integrations/jira"
	"github.com/kalambet/agentflow/internal/metrics"
	"github.com/kalambet/agentflow/internal/storage"
)

// ErrTeamRequired is returned when team scoping is on and no team is selected.
var ErrTeamRequired = errors.New("select a team before adding documents")

// Store is the document and team persistence the service needs.
// Implemented by storage.Store and supabase.Client.
type Store interface {
	CreateDocument(ctx context.Context, doc storage.Document) (storage.Document, error)
	GetDocument(ctx context.Context, id string) (storage.Document, error)
	FindDocumentByURL(ctx context.Context, url string) (storage.Document, error)
	UpdateDocument(ctx context.Context, doc storage.Document) error
	DeleteDocument(ctx context.Context, id string) error
	ListDocuments(ctx context.Context, f storage.DocumentFilter) ([]storage.Document, error)
	CreateTeam(ctx context.Context, name string) (storage.Team, error)
	GetTeam(ctx context.Context, id string) (storage.Team, error)
	ListTeams(ctx context.Context) ([]storage.Team, error)
}

// GitHubSource fetches repository files. Implemented by github.Client.
type GitHubSource interface {
	Branches(ctx context.Context) ([]string, error)
	File(ctx context.Context, branch, path string) (github.File, error)
	BlobURL(branch, path string) string
}

// JiraSource fetches issues. Implemented by jira.Client.
type JiraSource interface {
	Issue(ctx context.Context, key string) (jira.Issue, error)
	BrowseURL(key string) string
}

// Import results.
const (
	Created = "created"
	Updated = "updated"
	Skipped = "skipped"
)

// Outcome reports what Import did with one document.
type Outcome struct {
	Document storage.Document `json:"document"`
	Result   string           `json:"result"`
}

// Options configures a Service. Zero values are valid.
type Options struct {
	TeamsEnabled bool
	// CallDelay is waited between consecutive GitHub file fetches.
	CallDelay time.Duration
	// ParserURL, when set, extracts text from uploads that are neither PDF nor UTF-8.
	ParserURL string
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// Service manages imported and uploaded documents.
type Service struct {
	store        Store
	teamsEnabled bool
	callDelay    time.Duration
	parserURL    string
	metrics      *metrics.Metrics
	logger       *slog.Logger
	sleep        func(ctx context.Context, d time.Duration) error
}

// NewService returns a Service over store.
func NewService(store Store, opts Options) *Service {
	s := &Service{
		store:        store,
		teamsEnabled: opts.TeamsEnabled,
		callDelay:    opts.CallDelay,
		parserURL:    opts.ParserURL,
		metrics:      opts.Metrics,
		logger:       opts.Logger,
		sleep:        sleepCtx,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Store returns the backing store.
func (s *Service) Store() Store { return s.store }

// TeamsEnabled reports whether documents are team scoped.
func (s *Service) TeamsEnabled() bool { return s.teamsEnabled }

func (s *Service) teamFor(teamID string) (string, error) {
	if !s.teamsEnabled {
		return "", nil
	}
	if teamID == "" {
		return "", ErrTeamRequired
	}
	return teamID, nil
}

// Import stores doc, deduplicating on (URL, SHA): the same URL with the same
// SHA is skipped, the same URL with a different SHA is updated in place, and
// anything else is inserted. Documents without a URL are always inserted.
// An update keeps the document's owning team.
func (s *Service) Import(ctx context.Context, doc storage.Document) (Outcome, error) {
	if doc.URL != "" {
		existing, err := s.store.FindDocumentByURL(ctx, doc.URL)
		switch {
		case err == nil:
			if existing.SHA == doc.SHA {
				return s.done(doc.Type, Outcome{Document: existing, Result: Skipped}), nil
			}
			existing.Name = doc.Name
			existing.Text = doc.Text
			existing.SHA = doc.SHA
			if err := s.store.UpdateDocument(ctx, existing); err != nil {
				return Outcome{}, fmt.Errorf("updating %s: %w", doc.URL, err)
			}
			return s.done(doc.Type, Outcome{Document: existing, Result: Updated}), nil
		case !errors.Is(err, storage.ErrNotFound):
			return Outcome{}, fmt.Errorf("looking up %s: %w", doc.URL, err)
		}
	}

	created, err := s.store.CreateDocument(ctx, doc)
	if err != nil {
		return Outcome{}, fmt.Errorf("creating document: %w", err)
	}
	return s.done(doc.Type, Outcome{Document: created, Result: Created}), nil
}

func (s *Service) done(docType string, o Outcome) Outcome {
	if s.metrics != nil {
		s.metrics.DocumentImports.WithLabelValues(docType, o.Result).Inc()
	}
	s.logger.Debug("document imported", "type", docType, "url", o.Document.URL, "result", o.Result)
	return o
}

// Upload extracts text from an uploaded file and stores it.
func (s *Service) Upload(ctx context.Context, name string, data []byte, teamID string) (storage.Document, error) {
	team, err := s.teamFor(teamID)
	if err != nil {
		return storage.Document{}, err
	}
	text, err := s.extractText(ctx, name, data)
	if err != nil {
		return storage.Document{}, fmt.Errorf("extracting text from %s: %w", name, err)
	}
	out, err := s.Import(ctx, storage.Document{
		Name:   name,
		Type:   storage.DocTypeUpload,
		Text:   text,
		TeamID: team,
	})
	if err != nil {
		return storage.Document{}, err
	}
	return out.Document, nil
}

// ImportGitHub fetches each path on branch and imports it. Fetches are spaced
// by the configured call delay. The first failure aborts the import.
func (s *Service) ImportGitHub(ctx context.Context, gh GitHubSource, branch string, paths []string, teamID string) ([]Outcome, error) {
	team, err := s.teamFor(teamID)
	if err != nil {
		return nil, err
	}
	var outcomes []Outcome
	for i, p := range paths {
		if i > 0 {
			if err := s.sleep(ctx, s.callDelay); err != nil {
				return outcomes, err
			}
		}
		f, err := gh.File(ctx, branch, p)
		if err != nil {
			s.countIntegration("github", err)
			return outcomes, err
		}
		s.countIntegration("github", nil)

		out, err := s.Import(ctx, storage.Document{
			Name:   baseName(f.Path),
			Type:   storage.DocTypeGitHub,
			URL:    gh.BlobURL(branch, f.Path),
			Text:   f.Content,
			SHA:    f.SHA,
			TeamID: team,
		})
		if err != nil {
			return outcomes, err
		}
		outcomes = append(outcomes, out)
	}
	return outcomes, nil
}

// ImportJira fetches each issue and imports its flattened text. Jira issues
// carry no SHA, so re-importing an issue updates it only when its text changed.
func (s *Service) ImportJira(ctx context.Context, j JiraSource, keys []string, teamID string) ([]Outcome, error) {
	team, err := s.teamFor(teamID)
	if err != nil {
		return nil, err
	}
	var outcomes []Outcome
	for _, key := range keys {
		is, err := j.Issue(ctx, key)
		s.countIntegration("jira", err)
		if err != nil {
			return outcomes, err
		}
		text := jira.IssueDocument(is)
		out, err := s.Import(ctx, storage.Document{
			Name:   is.Key + ": " + is.Summary,
			Type:   storage.DocTypeJira,
			URL:    j.BrowseURL(is.Key),
			Text:   text,
			SHA:    contentSHA(text),
			TeamID: team,
		})
		if err != nil {
			return outcomes, err
		}
		outcomes = append(outcomes, out)
	}
	return outcomes, nil
}

// List returns the documents visible to teamID. With scoping off, or no team
// selected, every document is returned.
func (s *Service) List(ctx context.Context, teamID string) ([]storage.Document, error) {
	if !s.teamsEnabled {
		teamID = ""
	}
	return s.store.ListDocuments(ctx, storage.DocumentFilter{TeamID: teamID})
}

// Delete removes the document with id.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.store.DeleteDocument(ctx, id)
}

// Teams lists every team by name.
func (s *Service) Teams(ctx context.Context) ([]storage.Team, error) {
	return s.store.ListTeams(ctx)
}

// CreateTeam adds a team. Blank names are rejected.
func (s *Service) CreateTeam(ctx context.Context, name string) (storage.Team, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return storage.Team{}, errors.New("team name is required")
	}
	return s.store.CreateTeam(ctx, name)
}

func (s *Service) countIntegration(service string, err error) {
	if s.metrics != nil {
		s.metrics.IntegrationRequests.WithLabelValues(service, metrics.Outcome(err, false)).Inc()
	}
}

func baseName(p string) string {
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[i+1:]
	}
	return p
}
