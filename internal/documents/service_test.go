package documents

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/agentflow/internal/integrations/github"
	"github.com/kalambet/agentflow/internal/integrations/jira"
	"github.com/kalambet/agentflow/internal/storage"
)

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// fakeRepo serves files from a map keyed by branch + ":" + path.
type fakeRepo struct {
	files   map[string]github.File
	fetches []string
	fail    map[string]bool
}

func (f *fakeRepo) File(_ context.Context, branch, path string) (github.File, error) {
	f.fetches = append(f.fetches, path)
	if f.fail[path] {
		return github.File{}, &github.APIError{Status: 404, Message: "Not Found"}
	}
	file, ok := f.files[branch+":"+path]
	if !ok {
		return github.File{}, fmt.Errorf("no file %s", path)
	}
	return file, nil
}

func (f *fakeRepo) Branches(context.Context) ([]string, error) {
	seen := map[string]bool{}
	var names []string
	for key := range f.files {
		b, _, _ := strings.Cut(key, ":")
		if !seen[b] {
			seen[b] = true
			names = append(names, b)
		}
	}
	return names, nil
}

func (f *fakeRepo) BlobURL(branch, path string) string {
	return "https://github.com/acme/app/blob/" + branch + "/" + path
}

type fakeJira struct {
	issues map[string]jira.Issue
}

func (f *fakeJira) Issue(_ context.Context, key string) (jira.Issue, error) {
	is, ok := f.issues[key]
	if !ok {
		return jira.Issue{}, &jira.APIError{Status: 404, Message: "Issue does not exist"}
	}
	return is, nil
}

func (f *fakeJira) BrowseURL(key string) string {
	return "https://acme.atlassian.net/browse/" + key
}

func newTestService(t *testing.T, opts Options) (*Service, *storage.Store) {
	t.Helper()
	store := openTestStore(t)
	svc := NewService(store, opts)
	svc.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return svc, store
}

// TestImportGitHub_Dedup verifies same path + SHA is a no-op and a changed
// SHA updates the existing record.
func TestImportGitHub_Dedup(t *testing.T) {
	svc, store := newTestService(t, Options{})
	ctx := context.Background()
	repo := &fakeRepo{files: map[string]github.File{
		"main:docs/req.md": {Path: "docs/req.md", SHA: "sha-1", Content: "v1"},
	}}

	out, err := svc.ImportGitHub(ctx, repo, "main", []string{"docs/req.md"}, "")
	if err != nil {
		t.Fatalf("ImportGitHub: %v", err)
	}
	if out[0].Result != Created {
		t.Errorf("first import = %s, want created", out[0].Result)
	}
	firstID := out[0].Document.ID

	out, err = svc.ImportGitHub(ctx, repo, "main", []string{"docs/req.md"}, "")
	if err != nil {
		t.Fatalf("ImportGitHub: %v", err)
	}
	if out[0].Result != Skipped {
		t.Errorf("second import = %s, want skipped", out[0].Result)
	}

	repo.files["main:docs/req.md"] = github.File{Path: "docs/req.md", SHA: "sha-2", Content: "v2"}
	out, err = svc.ImportGitHub(ctx, repo, "main", []string{"docs/req.md"}, "")
	if err != nil {
		t.Fatalf("ImportGitHub: %v", err)
	}
	if out[0].Result != Updated || out[0].Document.ID != firstID {
		t.Errorf("third import = %s (id %s), want updated in place (id %s)", out[0].Result, out[0].Document.ID, firstID)
	}

	docs, err := store.ListDocuments(ctx, storage.DocumentFilter{})
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("documents = %d, want 1", len(docs))
	}
	if docs[0].Text != "v2" || docs[0].SHA != "sha-2" || docs[0].Name != "req.md" {
		t.Errorf("stored = %+v", docs[0])
	}
	if docs[0].URL != "https://github.com/acme/app/blob/main/docs/req.md" {
		t.Errorf("URL = %q", docs[0].URL)
	}
}

func TestImportGitHub_DelaysBetweenFetches(t *testing.T) {
	svc, _ := newTestService(t, Options{CallDelay: 250 * time.Millisecond})
	var waits []time.Duration
	svc.sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	repo := &fakeRepo{files: map[string]github.File{
		"main:a.md": {Path: "a.md", SHA: "1"},
		"main:b.md": {Path: "b.md", SHA: "2"},
		"main:c.md": {Path: "c.md", SHA: "3"},
	}}

	if _, err := svc.ImportGitHub(context.Background(), repo, "main", []string{"a.md", "b.md", "c.md"}, ""); err != nil {
		t.Fatalf("ImportGitHub: %v", err)
	}
	if len(waits) != 2 || waits[0] != 250*time.Millisecond {
		t.Errorf("waits = %v, want two 250ms delays", waits)
	}
}

func TestImportGitHub_SurfacesUpstreamError(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	repo := &fakeRepo{fail: map[string]bool{"gone.md": true}}

	_, err := svc.ImportGitHub(context.Background(), repo, "main", []string{"gone.md"}, "")
	if err == nil || !strings.Contains(err.Error(), "Not Found") {
		t.Errorf("error = %v, want upstream message", err)
	}
}

func TestTeamRequiredWhenScoped(t *testing.T) {
	svc, _ := newTestService(t, Options{TeamsEnabled: true})
	ctx := context.Background()

	if _, err := svc.Upload(ctx, "notes.txt", []byte("hi"), ""); !errors.Is(err, ErrTeamRequired) {
		t.Errorf("Upload error = %v, want ErrTeamRequired", err)
	}
	repo := &fakeRepo{}
	if _, err := svc.ImportGitHub(ctx, repo, "main", []string{"a.md"}, ""); !errors.Is(err, ErrTeamRequired) {
		t.Errorf("ImportGitHub error = %v, want ErrTeamRequired", err)
	}
	if len(repo.fetches) != 0 {
		t.Error("GitHub was called before team validation")
	}
}

func TestListScopedByTeam(t *testing.T) {
	svc, store := newTestService(t, Options{TeamsEnabled: true})
	ctx := context.Background()

	qa, _ := store.CreateTeam(ctx, "qa")
	dev, _ := store.CreateTeam(ctx, "dev")
	store.CreateDocument(ctx, storage.Document{Name: "global", Type: storage.DocTypeUpload})
	if _, err := svc.Upload(ctx, "qa.txt", []byte("qa"), qa.ID); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if _, err := svc.Upload(ctx, "dev.txt", []byte("dev"), dev.ID); err != nil {
		t.Fatalf("Upload: %v", err)
	}

	docs, err := svc.List(ctx, qa.ID)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(docs) != 2 {
		t.Errorf("qa sees %d documents, want 2 (own + global)", len(docs))
	}
	for _, d := range docs {
		if d.Name == "dev.txt" {
			t.Error("qa sees dev's document")
		}
	}
}

func TestUpload_TextAndUnsupported(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := context.Background()

	doc, err := svc.Upload(ctx, "req.md", []byte("# Requirements"), "")
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if doc.Text != "# Requirements" || doc.Type != storage.DocTypeUpload {
		t.Errorf("doc = %+v", doc)
	}

	if _, err := svc.Upload(ctx, "blob.bin", []byte{0xff, 0xfe, 0x00, 0x81}, ""); !errors.Is(err, ErrUnsupportedFile) {
		t.Errorf("binary upload error = %v, want ErrUnsupportedFile", err)
	}
	if _, err := svc.Upload(ctx, "broken.pdf", []byte("%PDF-1.4 not really"), ""); err == nil {
		t.Error("expected error for corrupt pdf")
	}
}

func TestImportJira(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := context.Background()
	src := &fakeJira{issues: map[string]jira.Issue{
		"QA-1": {Key: "QA-1", Summary: "Login", Description: "Users sign in"},
	}}

	out, err := svc.ImportJira(ctx, src, []string{"QA-1"}, "")
	if err != nil {
		t.Fatalf("ImportJira: %v", err)
	}
	d := out[0].Document
	if d.URL != "https://acme.atlassian.net/browse/QA-1" || d.Type != storage.DocTypeJira {
		t.Errorf("doc = %+v", d)
	}
	if !strings.Contains(d.Text, "Users sign in") {
		t.Errorf("Text = %q", d.Text)
	}

	out, _ = svc.ImportJira(ctx, src, []string{"QA-1"}, "")
	if out[0].Result != Skipped {
		t.Errorf("unchanged issue re-import = %s, want skipped", out[0].Result)
	}

	if _, err := svc.ImportJira(ctx, src, []string{"QA-404"}, ""); err == nil || !strings.Contains(err.Error(), "Issue does not exist") {
		t.Errorf("error = %v, want upstream message", err)
	}
}

func TestSyncGitHub(t *testing.T) {
	svc, store := newTestService(t, Options{})
	ctx := context.Background()
	repo := &fakeRepo{files: map[string]github.File{
		"main:a.md": {Path: "a.md", SHA: "a1", Content: "a"},
		"main:b.md": {Path: "b.md", SHA: "b1", Content: "b"},
	}}
	if _, err := svc.ImportGitHub(ctx, repo, "main", []string{"a.md", "b.md"}, ""); err != nil {
		t.Fatalf("ImportGitHub: %v", err)
	}
	store.CreateDocument(ctx, storage.Document{Name: "other", Type: storage.DocTypeGitHub,
		URL: "https://github.com/other/repo/blob/main/x.md"})

	repo.files["main:b.md"] = github.File{Path: "b.md", SHA: "b2", Content: "b changed"}
	report, err := svc.SyncGitHub(ctx, repo)
	if err != nil {
		t.Fatalf("SyncGitHub: %v", err)
	}
	want := SyncReport{Checked: 2, Updated: 1, Unchanged: 1}
	if report != want {
		t.Errorf("report = %+v, want %+v", report, want)
	}

	repo.fail = map[string]bool{"a.md": true}
	report, err = svc.SyncGitHub(ctx, repo)
	if err == nil || report.Failed != 1 || report.Checked != 2 {
		t.Errorf("report = %+v err = %v, want one failure and the pass completed", report, err)
	}
}

func TestSyncGitHub_BranchWithSlash(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := context.Background()
	repo := &fakeRepo{files: map[string]github.File{
		"feature/login:docs/a.md": {Path: "docs/a.md", SHA: "1", Content: "v1"},
		"feature:login/x.md":      {Path: "login/x.md", SHA: "x", Content: "x"},
	}}
	if _, err := svc.ImportGitHub(ctx, repo, "feature/login", []string{"docs/a.md"}, ""); err != nil {
		t.Fatalf("ImportGitHub: %v", err)
	}

	repo.files["feature/login:docs/a.md"] = github.File{Path: "docs/a.md", SHA: "2", Content: "v2"}
	report, err := svc.SyncGitHub(ctx, repo)
	if err != nil {
		t.Fatalf("SyncGitHub: %v", err)
	}
	if want := (SyncReport{Checked: 1, Updated: 1}); report != want {
		t.Errorf("report = %+v, want %+v", report, want)
	}
}

func TestSplitBlobPath(t *testing.T) {
	branches := []string{"main", "feature", "feature/login"}
	tests := []struct {
		rest, branch, path string
		ok                 bool
	}{
		{"main/docs/a.md", "main", "docs/a.md", true},
		{"feature/login/docs/a.md", "feature/login", "docs/a.md", true},
		{"feature/other.md", "feature", "other.md", true},
		{"gone/a.md", "gone", "a.md", true},
		{"nopath", "nopath", "", false},
	}
	for _, tc := range tests {
		branch, path, ok := splitBlobPath(tc.rest, branches)
		if branch != tc.branch || path != tc.path || ok != tc.ok {
			t.Errorf("splitBlobPath(%q) = %q, %q, %v; want %q, %q, %v", tc.rest, branch, path, ok, tc.branch, tc.path, tc.ok)
		}
	}
}

func TestImport_UpdateKeepsOwningTeam(t *testing.T) {
	svc, _ := newTestService(t, Options{TeamsEnabled: true})
	ctx := context.Background()
	teamA, err := svc.CreateTeam(ctx, "A")
	if err != nil {
		t.Fatalf("CreateTeam: %v", err)
	}
	teamB, err := svc.CreateTeam(ctx, "B")
	if err != nil {
		t.Fatalf("CreateTeam: %v", err)
	}
	repo := &fakeRepo{files: map[string]github.File{
		"main:a.md": {Path: "a.md", SHA: "1", Content: "v1"},
	}}
	if _, err := svc.ImportGitHub(ctx, repo, "main", []string{"a.md"}, teamA.ID); err != nil {
		t.Fatalf("import by team-a: %v", err)
	}

	// Same SHA from another team is a no-op.
	out, err := svc.ImportGitHub(ctx, repo, "main", []string{"a.md"}, teamB.ID)
	if err != nil || out[0].Result != Skipped {
		t.Fatalf("same SHA import = %+v, %v; want skipped", out, err)
	}

	repo.files["main:a.md"] = github.File{Path: "a.md", SHA: "2", Content: "v2"}
	out, err = svc.ImportGitHub(ctx, repo, "main", []string{"a.md"}, teamB.ID)
	if err != nil || out[0].Result != Updated {
		t.Fatalf("changed SHA import = %+v, %v; want updated", out, err)
	}
	if out[0].Document.TeamID != teamA.ID {
		t.Errorf("TeamID = %q, want team A", out[0].Document.TeamID)
	}

	docsA, _ := svc.List(ctx, teamA.ID)
	if len(docsA) != 1 || docsA[0].Text != "v2" {
		t.Errorf("team-a docs = %+v, want the updated document", docsA)
	}
	docsB, _ := svc.List(ctx, teamB.ID)
	if len(docsB) != 0 {
		t.Errorf("team-b docs = %d, want 0", len(docsB))
	}
}
