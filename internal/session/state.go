package session

import (
	"log/slog"
	"sync"

	"github.com/kalambet/agentflow/internal/agent"
	"github.com/kalambet/agentflow/internal/integrations/github"
	"github.com/kalambet/agentflow/internal/storage"
)

const (
	keyGitHub = "github.connection"
	keyJira   = "jira.connection"
)

// JiraConnection is the Jira integration state. Token is never serialized.
type JiraConnection struct {
	BaseURL     string `json:"base_url"`
	Email       string `json:"email"`
	Token       string `json:"-"`
	Connected   bool   `json:"connected"`
	DisplayName string `json:"display_name,omitempty"`
}

// State is the application state shared by the HTTP API, the MCP tools and
// the services. The selected team and secrets live only in memory; the
// GitHub and Jira connections (minus tokens) are persisted through Settings.
type State struct {
	settings *Settings

	mu     sync.RWMutex
	team   *storage.Team
	github github.Connection
	jira   JiraConnection
	last   map[string]agent.Result
	chain  []agent.ChainResult
}

// NewState creates a State. settings may be nil, in which case nothing is persisted.
func NewState(settings *Settings) *State {
	return &State{
		settings: settings,
		last:     make(map[string]agent.Result),
	}
}

// Restore loads persisted connections. Secrets are not restored; a restored
// connection is marked disconnected until credentials are supplied again.
func (s *State) Restore() error {
	if s.settings == nil {
		return nil
	}
	var gh github.Connection
	okGH, err := s.settings.GetJSON(keyGitHub, &gh)
	if err != nil {
		return err
	}
	var jc JiraConnection
	okJira, err := s.settings.GetJSON(keyJira, &jc)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if okGH {
		gh.Connected = false
		s.github = gh
	}
	if okJira {
		jc.Connected = false
		s.jira = jc
	}
	return nil
}

// SelectTeam sets the session team; nil clears it.
func (s *State) SelectTeam(t *storage.Team) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t == nil {
		s.team = nil
		return
	}
	cp := *t
	s.team = &cp
}

func (s *State) Team() *storage.Team {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.team == nil {
		return nil
	}
	cp := *s.team
	return &cp
}

// TeamID returns the selected team id or "".
func (s *State) TeamID() string {
	if t := s.Team(); t != nil {
		return t.ID
	}
	return ""
}

func (s *State) SetLastResponse(r agent.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last[r.AgentID] = r
}

func (s *State) LastResponse(agentID string) (agent.Result, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.last[agentID]
	return r, ok
}

func (s *State) SetChainResults(results []agent.ChainResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if results == nil {
		s.chain = nil
		return
	}
	s.chain = append([]agent.ChainResult(nil), results...)
}

func (s *State) ChainResults() []agent.ChainResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]agent.ChainResult(nil), s.chain...)
}

// SetGitHub replaces the GitHub connection and persists it without the token.
func (s *State) SetGitHub(c github.Connection) {
	s.mu.Lock()
	s.github = c
	s.github.Branches = append([]string(nil), c.Branches...)
	s.mu.Unlock()
	s.persist(keyGitHub, c)
}

func (s *State) GitHub() github.Connection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := s.github
	c.Branches = append([]string(nil), s.github.Branches...)
	return c
}

// SetJira replaces the Jira connection and persists it without the token.
func (s *State) SetJira(c JiraConnection) {
	s.mu.Lock()
	s.jira = c
	s.mu.Unlock()
	s.persist(keyJira, c)
}

func (s *State) Jira() JiraConnection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.jira
}

func (s *State) persist(key string, v any) {
	if s.settings == nil {
		return
	}
	if err := s.settings.SetJSON(key, v); err != nil {
		slog.Warn("persisting connection failed", "key", key, "error", err)
	}
}
