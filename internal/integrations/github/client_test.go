package github

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kalambet/agentflow/internal/cache"
)

func TestParseRepoURL(t *testing.T) {
	tests := []struct {
		in   string
		want Repo
	}{
		{"https://github.com/acme/app", Repo{"acme", "app"}},
		{"https://github.com/acme/app.git", Repo{"acme", "app"}},
		{"https://github.com/acme/my.repo/", Repo{"acme", "my.repo"}},
	}
	for _, tc := range tests {
		got, err := ParseRepoURL(tc.in)
		if err != nil {
			t.Errorf("ParseRepoURL(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseRepoURL(%q) = %+v, want %+v", tc.in, got, tc.want)
		}
	}

	for _, bad := range []string{"", "https://gitlab.com/acme/app", "https://github.com/acme", "github.com/acme/app", "https://github.com/acme/app/tree/main"} {
		if _, err := ParseRepoURL(bad); !errors.Is(err, ErrInvalidRepoURL) {
			t.Errorf("ParseRepoURL(%q) error = %v, want ErrInvalidRepoURL", bad, err)
		}
	}
}

func newTestClient(t *testing.T, h http.Handler, c cache.Cache) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	cl, err := NewClientWithAPIURL("https://github.com/acme/app", "ghp_test", srv.URL, c, time.Minute)
	if err != nil {
		t.Fatalf("NewClientWithAPIURL: %v", err)
	}
	return cl
}

func TestBranches(t *testing.T) {
	cl := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/acme/app/branches" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer ghp_test" {
			t.Errorf("Authorization = %q", got)
		}
		fmt.Fprint(w, `[{"name":"main"},{"name":"develop"}]`)
	}), nil)

	branches, err := cl.Branches(context.Background())
	if err != nil {
		t.Fatalf("Branches: %v", err)
	}
	if strings.Join(branches, ",") != "main,develop" {
		t.Errorf("branches = %v", branches)
	}
}

func TestContents_CachedPerBranchAndPath(t *testing.T) {
	var calls atomic.Int32
	cl := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		ref := r.URL.Query().Get("ref")
		fmt.Fprintf(w, `[{"name":"README.md","path":"docs/README.md","type":"file","sha":"%s-sha","size":10}]`, ref)
	}), cache.NewMemory())

	ctx := context.Background()
	first, err := cl.Contents(ctx, "main", "docs")
	if err != nil {
		t.Fatalf("Contents: %v", err)
	}
	if _, err := cl.Contents(ctx, "main", "/docs/"); err != nil {
		t.Fatalf("Contents: %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("API calls = %d, want 1 (second listing cached)", calls.Load())
	}

	other, err := cl.Contents(ctx, "develop", "docs")
	if err != nil {
		t.Fatalf("Contents: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("API calls = %d, want 2 (different branch)", calls.Load())
	}
	if first[0].SHA != "main-sha" || other[0].SHA != "develop-sha" {
		t.Errorf("SHAs = %q %q", first[0].SHA, other[0].SHA)
	}
}

func TestFile_DecodesBase64(t *testing.T) {
	content := "# Requirements\n\nUsers can sign in.\n"
	encoded := base64.StdEncoding.EncodeToString([]byte(content))
	// GitHub wraps base64 content at 60 characters.
	wrapped := encoded[:20] + "\n" + encoded[20:]

	cl := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/acme/app/contents/docs/req.md" {
			t.Errorf("path = %q", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]string{
			"type": "file", "path": "docs/req.md", "sha": "abc123", "encoding": "base64", "content": wrapped,
		})
	}), nil)

	f, err := cl.File(context.Background(), "main", "docs/req.md")
	if err != nil {
		t.Fatalf("File: %v", err)
	}
	if f.Content != content || f.SHA != "abc123" {
		t.Errorf("File = %+v", f)
	}
	if got := cl.BlobURL("main", f.Path); got != "https://github.com/acme/app/blob/main/docs/req.md" {
		t.Errorf("BlobURL = %q", got)
	}
}

func TestAPIErrorSurfacesMessage(t *testing.T) {
	cl := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"message":"Not Found"}`)
	}), nil)

	_, err := cl.File(context.Background(), "main", "missing.md")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.Status != http.StatusNotFound || apiErr.Message != "Not Found" {
		t.Errorf("APIError = %+v", apiErr)
	}
}

func TestConnectionOmitsToken(t *testing.T) {
	b, err := json.Marshal(Connection{URL: "https://github.com/acme/app", Token: "ghp_secret", Branch: "main"})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(b), "ghp_secret") {
		t.Errorf("serialized connection leaks token: %s", b)
	}
}
