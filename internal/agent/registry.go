package agent

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrUnknownAgent is returned for an agent id not in the catalog.
	ErrUnknownAgent = errors.New("unknown agent")
	// ErrChainTooShort is returned when fewer than two runnable agents are selected.
	ErrChainTooShort = errors.New("chain mode requires at least two agents (data generators excluded)")
	// ErrEmptyInput is returned when neither a message nor a file is provided.
	ErrEmptyInput = errors.New("a message or an attached file is required")
	// ErrNoSeedFile is returned when a chain run has no input file.
	ErrNoSeedFile = errors.New("chain mode requires a seed file")
)

// File is an in-memory upload attached to an agent or passed between chain steps.
type File struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type,omitempty"`
	Data        []byte `json:"-"`
}

// Size reports the file length in bytes.
func (f *File) Size() int {
	if f == nil {
		return 0
	}
	return len(f.Data)
}

// Agent is one entry of the static agent catalog.
type Agent struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	Description        string `json:"description"`
	Hidden             bool   `json:"hidden,omitempty"`
	DataGenerator      bool   `json:"data_generator,omitempty"`
	Tabular            bool   `json:"tabular,omitempty"`
	DefaultInstruction string `json:"-"`
	File               *File  `json:"file,omitempty"`
}

func catalog(syntheticData bool) []Agent {
	return []Agent{
		{
			ID:                 "user-stories",
			Name:               "User Stories Generator",
			Description:        "Turns requirements documents into user stories.",
			DefaultInstruction: "Generate user stories from the attached requirements.",
		},
		{
			ID:                 "acceptance-criteria",
			Name:               "Acceptance Criteria Generator",
			Description:        "Writes Given/When/Then acceptance criteria for user stories.",
			DefaultInstruction: "Write acceptance criteria for the user stories in the attached file.",
		},
		{
			ID:                 "test-cases",
			Name:               "Test Cases Generator",
			Description:        "Produces a table of manual test cases.",
			Tabular:            true,
			DefaultInstruction: "Generate test cases as a markdown table from the attached file.",
		},
		{
			ID:                 "test-scripts",
			Name:               "Test Scripts Generator",
			Description:        "Converts test cases into automated test scripts.",
			DefaultInstruction: "Write automated test scripts for the test cases in the attached file.",
		},
		{
			ID:                 "bug-report",
			Name:               "Bug Report Writer",
			Description:        "Formats findings into structured bug reports.",
			DefaultInstruction: "Write bug reports for the issues described in the attached file.",
		},
		{
			ID:                 "synthetic-data",
			Name:               "Synthetic Data Generator",
			Description:        "Generates synthetic test data sets.",
			Hidden:             !syntheticData,
			DataGenerator:      true,
			Tabular:            true,
			DefaultInstruction: "Generate synthetic test data for the attached specification.",
		},
	}
}

// Registry holds the agent catalog, the webhook map and per-agent attachments.
type Registry struct {
	mu       sync.RWMutex
	agents   []*Agent
	byID     map[string]*Agent
	webhooks map[string]string
}

// NewRegistry builds the catalog. webhooks maps agent id to webhook URL; the
// synthetic-data agent is hidden unless syntheticData is set.
func NewRegistry(webhooks map[string]string, syntheticData bool) *Registry {
	r := &Registry{
		byID:     make(map[string]*Agent),
		webhooks: make(map[string]string, len(webhooks)),
	}
	for _, a := range catalog(syntheticData) {
		r.agents = append(r.agents, &a)
		r.byID[a.ID] = &a
	}
	for id, u := range webhooks {
		r.webhooks[id] = u
	}
	return r
}

// List returns copies of the catalog entries in catalog order.
func (r *Registry) List(includeHidden bool) []Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Agent, 0, len(r.agents))
	for _, a := range r.agents {
		if a.Hidden && !includeHidden {
			continue
		}
		out = append(out, copyAgent(a))
	}
	return out
}

// Get returns a copy of the agent with id, or ErrUnknownAgent.
func (r *Registry) Get(id string) (Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.byID[id]
	if !ok {
		return Agent{}, fmt.Errorf("%w: %q", ErrUnknownAgent, id)
	}
	return copyAgent(a), nil
}

// WebhookURL returns the configured webhook for id, or "" when none is set.
func (r *Registry) WebhookURL(id string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.webhooks[id]
}

// Attach sets the upload file for an agent, replacing any previous one.
func (r *Registry) Attach(id string, f File) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAgent, id)
	}
	data := make([]byte, len(f.Data))
	copy(data, f.Data)
	a.File = &File{Name: f.Name, ContentType: f.ContentType, Data: data}
	return nil
}

// Detach removes the agent's upload file. Detaching with nothing attached is a no-op.
func (r *Registry) Detach(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAgent, id)
	}
	a.File = nil
	return nil
}

// ValidateChain resolves ids into the agents a chain run will execute.
// Data-generator agents are dropped; at least two must remain.
func (r *Registry) ValidateChain(ids []string) ([]Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var steps []Agent
	for _, id := range ids {
		a, ok := r.byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownAgent, id)
		}
		if a.DataGenerator {
			continue
		}
		steps = append(steps, copyAgent(a))
	}
	if len(steps) < 2 {
		return nil, ErrChainTooShort
	}
	return steps, nil
}

func copyAgent(a *Agent) Agent {
	cp := *a
	if a.File != nil {
		f := *a.File
		f.Data = make([]byte, len(a.File.Data))
		copy(f.Data, a.File.Data)
		cp.File = &f
	}
	return cp
}
