package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/agentflow/internal/agent"
	"github.com/kalambet/agentflow/internal/config"
	"github.com/kalambet/agentflow/internal/docconv"
	"github.com/kalambet/agentflow/internal/storage"
)

// --- agents ---

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List available agents",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return listAgents(cmd.Context(), client, os.Stdout)
	},
}

func listAgents(ctx context.Context, client *apiClient, out io.Writer) error {
	resp, err := client.get(ctx, "/agents")
	if err != nil {
		return err
	}
	var agents []agent.Agent
	if err := decodeJSON(resp, &agents); err != nil {
		return err
	}
	for _, a := range agents {
		line := fmt.Sprintf("%-22s %s", colorize(labelStyle, a.ID), a.Name)
		if a.File != nil {
			line += colorize(mutedStyle, fmt.Sprintf("  [file: %s]", a.File.Name))
		}
		fmt.Fprintln(out, line)
	}
	return nil
}

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <agent-id> [message...]",
	Short: "Send a message to one agent",
	Long: `Send a message to one agent and print its response.

Examples:
  agentflow ask user-stories "Users can reset their password"
  agentflow ask bug-report --file crash.log "App crashes on save"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		message := strings.Join(args[1:], " ")
		if strings.TrimSpace(message) == "" && file == "" {
			return fmt.Errorf("a message or --file is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return ask(cmd.Context(), client, os.Stdout, args[0], message, file)
	},
}

func init() {
	askCmd.Flags().String("file", "", "file to send with the message")
}

func ask(ctx context.Context, client *apiClient, out io.Writer, agentID, message, file string) error {
	path := "/agents/" + url.PathEscape(agentID) + "/invoke"

	var resp *http.Response
	var err error
	if file != "" {
		resp, err = client.upload(ctx, http.MethodPost, path, map[string][]string{"message": {message}}, file)
	} else {
		resp, err = client.post(ctx, path, map[string]string{"message": message})
	}
	if err != nil {
		return err
	}

	var res agent.Result
	if err := decodeJSON(resp, &res); err != nil {
		return err
	}
	if res.Simulated {
		printWarning("Simulated response: %s", res.Cause)
	}
	fmt.Fprintln(out, res.Response)
	return nil
}

// --- chain ---

var chainCmd = &cobra.Command{
	Use:   "chain",
	Short: "Run agents in sequence, piping each response into the next",
	Long: `Run agents in sequence. Each agent receives the previous agent's response
as a text file; the first agent receives the seed.

Examples:
  agentflow chain --agents user-stories,acceptance-criteria,test-cases --file requirements.md
  agentflow chain --agents user-stories,test-cases --seed "Checkout with saved cards"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		agents, _ := cmd.Flags().GetStringSlice("agents")
		file, _ := cmd.Flags().GetString("file")
		seed, _ := cmd.Flags().GetString("seed")

		if len(agents) < 2 {
			return fmt.Errorf("--agents needs at least two agent ids")
		}
		if file == "" && seed == "" {
			return fmt.Errorf("one of --file or --seed is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return runChain(cmd.Context(), client, os.Stdout, agents, file, seed)
	},
}

func init() {
	chainCmd.Flags().StringSlice("agents", nil, "comma-separated agent ids, in order")
	chainCmd.Flags().String("file", "", "seed file for the first agent")
	chainCmd.Flags().String("seed", "", "seed text for the first agent")
}

func runChain(ctx context.Context, client *apiClient, out io.Writer, agents []string, file, seed string) error {
	var resp *http.Response
	var err error
	if file != "" {
		resp, err = client.upload(ctx, http.MethodPost, "/chain", map[string][]string{"agents": agents}, file)
	} else {
		resp, err = client.post(ctx, "/chain", map[string]any{
			"agents": agents,
			"seed":   map[string]string{"name": "input.txt", "content": seed},
		})
	}
	if err != nil {
		return err
	}

	var run agent.ChainRun
	if err := decodeJSON(resp, &run); err != nil {
		return err
	}
	for _, r := range run.Results {
		if r.Simulated {
			printWarning("Step %d (%s) was simulated", r.Step, r.AgentID)
		}
	}
	fmt.Fprintln(out, run.Output)
	return nil
}

// --- export ---

var exportCmd = &cobra.Command{
	Use:   "export [agent-id]",
	Short: "Export an agent response or the last chain as DOCX/XLSX",
	Long: `Export content as a document. Tables from tabular agents become XLSX,
everything else DOCX.

Examples:
  agentflow export test-cases                 # last test-cases response
  agentflow export test-cases --content out.md
  agentflow export --chain --out ./exports`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		chain, _ := cmd.Flags().GetBool("chain")
		contentFile, _ := cmd.Flags().GetString("content")
		outDir, _ := cmd.Flags().GetString("out")

		req := map[string]string{}
		switch {
		case chain:
			req["source"] = "chain"
		case len(args) == 1:
			req["agent_id"] = args[0]
		default:
			return fmt.Errorf("an agent id or --chain is required")
		}
		if contentFile != "" {
			data, err := os.ReadFile(contentFile)
			if err != nil {
				return fmt.Errorf("reading content: %w", err)
			}
			req["content"] = string(data)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		path, err := exportDocument(cmd.Context(), client, req, outDir)
		if err != nil {
			return err
		}
		printSuccess("Wrote %s", path)
		return nil
	},
}

func init() {
	exportCmd.Flags().Bool("chain", false, "export the last chain run")
	exportCmd.Flags().String("content", "", "markdown file to export instead of the last response")
	exportCmd.Flags().String("out", ".", "directory to write the document to")
}

// exportDocument posts an export request and saves the returned document in
// outDir under the server-chosen file name.
func exportDocument(ctx context.Context, client *apiClient, req map[string]string, outDir string) (string, error) {
	resp, err := client.post(ctx, "/export", req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return "", err
	}

	name := "export"
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil && params["filename"] != "" {
		name = filepath.Base(params["filename"])
	}
	switch tier := resp.Header.Get("X-Export-Tier"); tier {
	case docconv.TierPlain, docconv.TierRaw, docconv.TierText:
		printWarning("Exported with fallback tier %q", tier)
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(outDir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("creating output file: %w", err)
	}
	defer f.Close()
	if _, err := io.Copy(f, resp.Body); err != nil {
		return "", fmt.Errorf("writing output file: %w", err)
	}
	return path, nil
}

// --- docs ---

var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "Manage reference documents",
}

var docsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		docType, _ := cmd.Flags().GetString("type")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return listDocuments(cmd.Context(), client, os.Stdout, docType)
	},
}

var docsUploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.upload(cmd.Context(), http.MethodPost, "/documents", nil, args[0])
		if err != nil {
			return err
		}
		var doc storage.Document
		if err := decodeJSON(resp, &doc); err != nil {
			return err
		}
		printSuccess("Uploaded %s (%s)", doc.Name, doc.ID)
		return nil
	},
}

var docsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), "/documents/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Deleted %s", args[0])
		return nil
	},
}

var docsSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Re-fetch GitHub documents from the connected repository",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/documents/sync", nil)
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Sync queued (job %s)", result["job_id"])
		return nil
	},
}

func init() {
	docsListCmd.Flags().String("type", "", "filter by document type (upload, github, jira)")
	docsCmd.AddCommand(docsListCmd, docsUploadCmd, docsDeleteCmd, docsSyncCmd)
}

func listDocuments(ctx context.Context, client *apiClient, out io.Writer, docType string) error {
	path := "/documents"
	if docType != "" {
		path += "?type=" + url.QueryEscape(docType)
	}
	resp, err := client.get(ctx, path)
	if err != nil {
		return err
	}
	var docs []storage.Document
	if err := decodeJSON(resp, &docs); err != nil {
		return err
	}
	if len(docs) == 0 {
		fmt.Fprintln(out, "No documents found.")
		return nil
	}
	for _, d := range docs {
		fmt.Fprintf(out, "%s  %-7s %s\n", colorize(stepStyle, shortID(d.ID)), d.Type, d.Name)
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// --- teams ---

var teamsCmd = &cobra.Command{
	Use:   "teams",
	Short: "Manage teams and the session team",
}

var teamsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List teams",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return listTeams(cmd.Context(), client, os.Stdout)
	},
}

var teamsCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a team",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/teams", map[string]string{"name": strings.Join(args, " ")})
		if err != nil {
			return err
		}
		var t storage.Team
		if err := decodeJSON(resp, &t); err != nil {
			return err
		}
		printSuccess("Created team %s (%s)", t.Name, t.ID)
		return nil
	},
}

var teamsSelectCmd = &cobra.Command{
	Use:   "select [team-id]",
	Short: "Select the session team; no argument clears it",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		teamID := ""
		if len(args) == 1 {
			teamID = args[0]
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		name, err := selectTeam(cmd.Context(), client, teamID)
		if err != nil {
			return err
		}
		if name == "" {
			printSuccess("Session team cleared")
		} else {
			printSuccess("Session team: %s", name)
		}
		return nil
	},
}

func init() {
	teamsCmd.AddCommand(teamsListCmd, teamsCreateCmd, teamsSelectCmd)
}

func listTeams(ctx context.Context, client *apiClient, out io.Writer) error {
	resp, err := client.get(ctx, "/teams")
	if err != nil {
		return err
	}
	var teams []storage.Team
	if err := decodeJSON(resp, &teams); err != nil {
		return err
	}

	resp, err = client.get(ctx, "/session/team")
	if err != nil {
		return err
	}
	var session struct {
		TeamsEnabled bool          `json:"teams_enabled"`
		Team         *storage.Team `json:"team"`
	}
	if err := decodeJSON(resp, &session); err != nil {
		return err
	}
	if !session.TeamsEnabled {
		printWarning("Team scoping is disabled (features.teams = false)")
	}

	for _, t := range teams {
		marker := "  "
		if session.Team != nil && session.Team.ID == t.ID {
			marker = colorize(successStyle, "* ")
		}
		fmt.Fprintf(out, "%s%s  %s\n", marker, colorize(stepStyle, t.ID), t.Name)
	}
	return nil
}

func selectTeam(ctx context.Context, client *apiClient, teamID string) (string, error) {
	resp, err := client.put(ctx, "/session/team", map[string]string{"team_id": teamID})
	if err != nil {
		return "", err
	}
	var result struct {
		Team *storage.Team `json:"team"`
	}
	if err := decodeJSON(resp, &result); err != nil {
		return "", err
	}
	if result.Team == nil {
		return "", nil
	}
	return result.Team.Name, nil
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		asJSON, _ := cmd.Flags().GetBool("json")
		keys := config.ShowAll(cfg)
		if asJSON {
			values := make(map[string]string, len(keys))
			for _, k := range keys {
				values[k.Key] = k.Value
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(values)
		}
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(labelStyle, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configShowCmd.Flags().Bool("json", false, "print as JSON")
	configCmd.AddCommand(configShowCmd, configSetCmd)
}
