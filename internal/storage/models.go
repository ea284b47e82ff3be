package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Document types.
const (
	DocTypeUpload = "upload"
	DocTypeGitHub = "github"
	DocTypeJira   = "jira"
)

// Document is an imported or uploaded source document. TeamID is empty for
// global documents visible to every team.
type Document struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Type      string    `json:"document_type"`
	URL       string    `json:"document_url"`
	Text      string    `json:"document_text"`
	SHA       string    `json:"sha,omitempty"`
	TeamID    string    `json:"team_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Team struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// DocumentFilter narrows ListDocuments. A non-empty TeamID returns that team's
// documents plus global ones.
type DocumentFilter struct {
	TeamID string
	Type   string
}

type Interaction struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	AgentID   string    `json:"agent_id"`
	Mode      string    `json:"mode"` // "single" or "chain"
	ChainID   string    `json:"chain_id,omitempty"`
	Step      int       `json:"step,omitempty"`
	Message   string    `json:"message"`
	FileName  string    `json:"file_name,omitempty"`
	Response  string    `json:"response"`
	Simulated bool      `json:"simulated"`
	Error     string    `json:"error,omitempty"`
}

type Job struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	PayloadJSON string    `json:"payload"`
	Status      string    `json:"status"` // one of the Job* status constants
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"max_attempts"`
	RunAfter    time.Time `json:"run_after"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	LastError   string    `json:"last_error,omitempty"`
}
