package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/kalambet/agentflow/internal/metrics"
	"github.com/kalambet/agentflow/internal/storage"
)

// ChainResult is one step of a chain run.
type ChainResult struct {
	Step      int    `json:"step"`
	AgentID   string `json:"agent_id"`
	AgentName string `json:"agent_name"`
	Response  string `json:"response"`
	Simulated bool   `json:"simulated"`
}

// ChainRun is the outcome of RunChain.
type ChainRun struct {
	ID      string        `json:"id"`
	Results []ChainResult `json:"results"`
	Output  string        `json:"output"`
}

// RunChain invokes agents in order, feeding each response to the next step
// as <agent-id>-output.txt. A failing webhook yields a simulated step result
// and the chain continues; only validation errors and ctx cancellation abort.
func (inv *Invoker) RunChain(ctx context.Context, agentIDs []string, seed *File, team *storage.Team) (ChainRun, error) {
	steps, err := inv.registry.ValidateChain(agentIDs)
	if err != nil {
		return ChainRun{}, err
	}
	if seed.Size() == 0 {
		return ChainRun{}, ErrNoSeedFile
	}
	if inv.sink != nil {
		inv.sink.SetChainResults(nil)
	}

	run := ChainRun{
		ID:      uuid.New().String(),
		Results: make([]ChainResult, 0, len(steps)),
	}
	input := seed
	for i, a := range steps {
		if err := ctx.Err(); err != nil {
			inv.countChain(metrics.OutcomeError)
			return ChainRun{}, fmt.Errorf("chain cancelled before step %d: %w", i+1, err)
		}

		inv.logger.Debug("chain step", "chain_id", run.ID, "step", i+1, "agent", a.ID, "input", input.Name)
		res, err := inv.call(ctx, a, a.DefaultInstruction, input, team)
		if err != nil {
			inv.countChain(metrics.OutcomeError)
			return ChainRun{}, fmt.Errorf("chain cancelled during step %d (%s): %w", i+1, a.ID, err)
		}

		inv.record(storage.Interaction{
			Mode:     "chain",
			ChainID:  run.ID,
			Step:     i + 1,
			Message:  a.DefaultInstruction,
			FileName: input.Name,
		}, res)
		if inv.metrics != nil {
			inv.metrics.ChainSteps.WithLabelValues(a.ID, metrics.Outcome(nil, res.Simulated)).Inc()
		}

		run.Results = append(run.Results, ChainResult{
			Step:      i + 1,
			AgentID:   a.ID,
			AgentName: a.Name,
			Response:  res.Response,
			Simulated: res.Simulated,
		})
		input = &File{
			Name:        a.ID + "-output.txt",
			ContentType: "text/plain",
			Data:        []byte(res.Response),
		}
	}

	run.Output = FormatChain(run.Results)
	if inv.sink != nil {
		inv.sink.SetChainResults(run.Results)
	}
	inv.countChain(metrics.OutcomeOK)
	return run, nil
}

func (inv *Invoker) countChain(outcome string) {
	if inv.metrics != nil {
		inv.metrics.ChainRuns.WithLabelValues(outcome).Inc()
	}
}

// FormatChain renders chain results as one markdown document with a
// "## Step k: <name>" section per step separated by horizontal rules.
func FormatChain(results []ChainResult) string {
	sections := make([]string, 0, len(results))
	for i, r := range results {
		var b strings.Builder
		fmt.Fprintf(&b, "## Step %d: %s\n\n", i+1, r.AgentName)
		if r.Simulated {
			b.WriteString("> Simulated response: the agent webhook was unavailable.\n\n")
		}
		b.WriteString(strings.TrimRight(r.Response, "\n"))
		sections = append(sections, b.String())
	}
	return strings.Join(sections, "\n\n---\n\n") + "\n"
}
