package jira

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestValidateBaseURL(t *testing.T) {
	valid := []string{
		"https://acme.atlassian.net",
		"https://acme-qa.atlassian.net/",
	}
	for _, u := range valid {
		got, err := ValidateBaseURL(u)
		if err != nil {
			t.Errorf("ValidateBaseURL(%q): %v", u, err)
		}
		if strings.HasSuffix(got, "/") {
			t.Errorf("ValidateBaseURL(%q) = %q, want no trailing slash", u, got)
		}
	}

	invalid := []string{
		"",
		"http://acme.atlassian.net",
		"https://atlassian.net",
		"https://acme.atlassian.net/jira",
		"https://acme.atlassian.net.evil.com",
		"https://acme.example.com",
		"acme.atlassian.net",
	}
	for _, u := range invalid {
		if _, err := ValidateBaseURL(u); !errors.Is(err, ErrInvalidURL) {
			t.Errorf("ValidateBaseURL(%q) error = %v, want ErrInvalidURL", u, err)
		}
	}
}

func TestNewClient_RejectsMalformedURLWithoutRequest(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer srv.Close()

	_, err := NewClient(Config{BaseURL: srv.URL, Email: "qa@acme.io", Token: "t"})
	if !errors.Is(err, ErrInvalidURL) {
		t.Fatalf("error = %v, want ErrInvalidURL", err)
	}
	if calls != 0 {
		t.Errorf("server received %d requests, want 0", calls)
	}
}

func TestConnect_BasicAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "qa@acme.io" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"errorMessages":["Client must be authenticated"]}`)
			return
		}
		if r.URL.Path != "/rest/api/3/myself" {
			t.Errorf("path = %q", r.URL.Path)
		}
		fmt.Fprint(w, `{"accountId":"a1","displayName":"QA Bot","emailAddress":"qa@acme.io"}`)
	}))
	defer srv.Close()

	u, err := NewClientWithBaseURL(srv.URL, "qa@acme.io", "secret").Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if u.DisplayName != "QA Bot" {
		t.Errorf("DisplayName = %q", u.DisplayName)
	}

	_, err = NewClientWithBaseURL(srv.URL, "qa@acme.io", "wrong").Connect(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.Status != http.StatusUnauthorized || apiErr.Message != "Client must be authenticated" {
		t.Errorf("APIError = %+v", apiErr)
	}
}

func TestProjects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"values":[{"id":"1","key":"QA","name":"Quality"},{"id":"2","key":"WEB","name":"Website"}]}`)
	}))
	defer srv.Close()

	projects, err := NewClientWithBaseURL(srv.URL, "e", "t").Projects(context.Background())
	if err != nil {
		t.Fatalf("Projects: %v", err)
	}
	if len(projects) != 2 || projects[1].Key != "WEB" {
		t.Errorf("projects = %+v", projects)
	}
}

const issueJSON = `{
  "key": "QA-7",
  "names": {"customfield_10050": "Acceptance Criteria", "customfield_10051": "Story Points"},
  "fields": {
    "summary": "Password reset",
    "status": {"name": "To Do"},
    "issuetype": {"name": "Story"},
    "customfield_10051": 5,
    "customfield_10050": "Reset email arrives within 1 minute",
    "description": {
      "type": "doc",
      "version": 1,
      "content": [
        {"type": "heading", "attrs": {"level": 2}, "content": [{"type": "text", "text": "Context"}]},
        {"type": "paragraph", "content": [
          {"type": "text", "text": "Users forget passwords."},
          {"type": "hardBreak"},
          {"type": "mention", "attrs": {"text": "@ana"}}
        ]},
        {"type": "bulletList", "content": [
          {"type": "listItem", "content": [{"type": "paragraph", "content": [{"type": "text", "text": "email link"}]}]},
          {"type": "listItem", "content": [{"type": "paragraph", "content": [{"type": "text", "text": "expires in 1h"}]}]}
        ]}
      ]
    }
  }
}`

func TestIssue_FlattensADF(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/api/3/issue/QA-7" {
			t.Errorf("path = %q", r.URL.Path)
		}
		fmt.Fprint(w, issueJSON)
	}))
	defer srv.Close()

	is, err := NewClientWithBaseURL(srv.URL, "e", "t").Issue(context.Background(), "QA-7")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if is.Summary != "Password reset" || is.Status != "To Do" || is.IssueType != "Story" {
		t.Errorf("issue = %+v", is)
	}
	wantDesc := "## Context\n\nUsers forget passwords.\n@ana\n\n- email link\n- expires in 1h"
	if is.Description != wantDesc {
		t.Errorf("Description = %q, want %q", is.Description, wantDesc)
	}
	if len(is.Acceptance) != 1 || is.Acceptance[0] != "Reset email arrives within 1 minute" {
		t.Errorf("Acceptance = %q", is.Acceptance)
	}

	doc := IssueDocument(is)
	for _, want := range []string{"# QA-7: Password reset", "Type: Story | Status: To Do", "## Acceptance Criteria"} {
		if !strings.Contains(doc, want) {
			t.Errorf("IssueDocument missing %q:\n%s", want, doc)
		}
	}
}

func TestSearchIssues(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("jql"); got != "project = QA" {
			t.Errorf("jql = %q", got)
		}
		fmt.Fprint(w, `{"issues":[{"key":"QA-1","fields":{"summary":"one"}},{"key":"QA-2","fields":{"summary":"two"}}]}`)
	}))
	defer srv.Close()

	issues, err := NewClientWithBaseURL(srv.URL, "e", "t").SearchIssues(context.Background(), "project = QA")
	if err != nil {
		t.Fatalf("SearchIssues: %v", err)
	}
	if len(issues) != 2 || issues[1].Key != "QA-2" || issues[1].Summary != "two" {
		t.Errorf("issues = %+v", issues)
	}
}
