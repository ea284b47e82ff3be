package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/agentflow/internal/agent"
	"github.com/kalambet/agentflow/internal/api"
	"github.com/kalambet/agentflow/internal/cache"
	"github.com/kalambet/agentflow/internal/config"
	"github.com/kalambet/agentflow/internal/docconv"
	"github.com/kalambet/agentflow/internal/documents"
	"github.com/kalambet/agentflow/internal/integrations/github"
	"github.com/kalambet/agentflow/internal/integrations/jira"
	"github.com/kalambet/agentflow/internal/integrations/supabase"
	"github.com/kalambet/agentflow/internal/jobs"
	"github.com/kalambet/agentflow/internal/metrics"
	"github.com/kalambet/agentflow/internal/session"
	"github.com/kalambet/agentflow/internal/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the agentflow server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		mcpStdio, _ := cmd.Flags().GetBool("mcp")
		return runServer(mcpStdio)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running agentflow server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show agentflow system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func init() {
	startCmd.Flags().Bool("mcp", true, "serve MCP tools over stdio alongside HTTP")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "agentflow.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func newLogger(level string) *slog.Logger {
	logLevel := slog.LevelInfo
	if strings.EqualFold(level, "debug") {
		logLevel = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}

// agentWebhooks returns the configured webhook map, with the synthetic data
// service URL standing in when the synthetic-data agent has no webhook.
func agentWebhooks(cfg config.Config) map[string]string {
	hooks := make(map[string]string, len(cfg.Agents.Webhooks)+1)
	for id, u := range cfg.Agents.Webhooks {
		hooks[id] = u
	}
	if hooks["synthetic-data"] == "" && cfg.Services.SyntheticDataURL != "" {
		hooks["synthetic-data"] = cfg.Services.SyntheticDataURL
	}
	return hooks
}

func runServer(mcpStdio bool) error {
	fmt.Fprintf(os.Stderr, "agentflow version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Log.Level)
	slog.SetDefault(logger)

	apiToken, err := config.GetAPIToken(config.NewKeychain())
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}
	slog.Info("API bearer token available")

	// Refuse to start twice on the same port.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("agentflow is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("agentflow is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	listingCache, closeCache, err := cache.Open(ctx, cfg.Cache.RedisURL)
	if err != nil {
		return fmt.Errorf("opening cache: %w", err)
	}
	defer closeCache()

	m := metrics.New()

	state := session.NewState(session.NewSettings(store))
	if err := state.Restore(); err != nil {
		slog.Warn("restoring session state", "error", err)
	}

	invoker := agent.NewInvoker(agent.NewRegistry(agentWebhooks(cfg), cfg.Features.SyntheticData), agent.Options{
		Timeout:      cfg.AgentTimeout(),
		TeamsEnabled: cfg.Features.Teams,
		History:      store,
		Sink:         state,
		Metrics:      m,
		Logger:       logger,
	})

	// Documents live in Supabase when it is configured, locally otherwise.
	var docStore documents.Store = store
	var supabaseProbe api.StatusProber
	if cfg.Supabase.URL != "" && cfg.Supabase.Key != "" {
		sb := supabase.NewClient(cfg.Supabase.URL, cfg.Supabase.Key)
		docStore = sb
		supabaseProbe = sb
		slog.Info("document store: supabase", "url", cfg.Supabase.URL)
	}
	docs := documents.NewService(docStore, documents.Options{
		TeamsEnabled: cfg.Features.Teams,
		CallDelay:    cfg.GitHubCallDelay(),
		ParserURL:    cfg.Services.ParserURL,
		Metrics:      m,
		Logger:       logger,
	})

	deps := api.AppDeps{
		Invoker:       invoker,
		Exporter:      docconv.NewExporter(m),
		Documents:     docs,
		State:         state,
		Jobs:          store,
		History:       store,
		Metrics:       m,
		Token:         apiToken,
		Cache:         listingCache,
		ListingTTL:    cfg.ListingTTL(),
		DefaultBranch: cfg.GitHub.Branch,
		Supabase:      supabaseProbe,
	}
	connectFromConfig(ctx, cfg, deps)

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: api.NewRouter(deps),
	}

	worker := jobs.NewWorker(store, 500*time.Millisecond)
	worker.Handle(documents.SyncJobType, docs.SyncJob(func() (documents.GitHubSource, error) {
		c, err := deps.GitHubClient()
		if err != nil {
			return nil, err
		}
		return c, nil
	}))
	go worker.Run(ctx)

	if mcpStdio {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Invoker:   invoker,
			Exporter:  deps.Exporter,
			State:     state,
			History:   store,
			ExportDir: filepath.Join(cfg.Storage.DataDir, "exports"),
		})
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "agentflow listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// connectFromConfig connects GitHub and Jira when their credentials are
// configured. A failed check is logged and leaves the integration disconnected.
func connectFromConfig(ctx context.Context, cfg config.Config, deps api.AppDeps) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if cfg.GitHub.RepoURL != "" && cfg.GitHub.Token != "" {
		conn := github.Connection{URL: cfg.GitHub.RepoURL, Token: cfg.GitHub.Token, Branch: cfg.GitHub.Branch, Connected: true}
		c, err := github.NewClient(conn.URL, conn.Token, deps.Cache, deps.ListingTTL)
		if err == nil {
			err = c.Ping(ctx)
		}
		if err != nil {
			slog.Warn("github: configured connection failed", "repo", conn.URL, "error", err)
		} else {
			deps.State.SetGitHub(conn)
			slog.Info("github connected", "repo", c.Repo().String(), "branch", conn.Branch)
		}
	}

	if cfg.Jira.BaseURL != "" && cfg.Jira.Email != "" && cfg.Jira.Token != "" {
		c, err := jira.NewClient(jira.Config{BaseURL: cfg.Jira.BaseURL, Email: cfg.Jira.Email, Token: cfg.Jira.Token})
		if err != nil {
			slog.Warn("jira: invalid configured site", "url", cfg.Jira.BaseURL, "error", err)
			return
		}
		user, err := c.Connect(ctx)
		if err != nil {
			slog.Warn("jira: configured connection failed", "url", c.BaseURL(), "error", err)
			return
		}
		deps.State.SetJira(session.JiraConnection{
			BaseURL:     c.BaseURL(),
			Email:       cfg.Jira.Email,
			Token:       cfg.Jira.Token,
			Connected:   true,
			DisplayName: user.DisplayName,
		})
		slog.Info("jira connected", "url", c.BaseURL(), "user", user.DisplayName)
	}
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("agentflow is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop agentflow (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to agentflow (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	running := false
	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	configured := 0
	for _, u := range agentWebhooks(cfg) {
		if u != "" {
			configured++
		}
	}
	printStatus("Webhooks", "%d configured", configured)
	printStatus("Teams", "%s", enabledLabel(cfg.Features.Teams))
	printStatus("Synthetic data", "%s", enabledLabel(cfg.Features.SyntheticData))

	apiToken, tokenErr := config.GetAPIToken(config.NewKeychain())
	if tokenErr == nil && running {
		c := &apiClient{baseURL: serverURL, token: apiToken, httpClient: &http.Client{Timeout: 15 * time.Second}}
		ctx := context.Background()

		if r, err := c.get(ctx, "/documents"); err == nil {
			var docs []json.RawMessage
			if decodeJSON(r, &docs) == nil {
				printStatus("Documents", "%d", len(docs))
			}
		}
		if r, err := c.get(ctx, "/interactions?limit=100"); err == nil {
			var interactions []json.RawMessage
			if decodeJSON(r, &interactions) == nil {
				printStatus("Interactions", "%s", countLabel(len(interactions), 100))
			}
		}
		if r, err := c.get(ctx, "/integrations/status"); err == nil {
			var env struct {
				Data map[string]api.ServiceStatus `json:"data"`
			}
			if decodeJSON(r, &env) == nil {
				for _, name := range []string{"github", "jira", "supabase"} {
					printStatus(name, "%s", serviceLabel(env.Data[name]))
				}
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func enabledLabel(on bool) string {
	if on {
		return "enabled"
	}
	return "disabled"
}

func serviceLabel(s api.ServiceStatus) string {
	switch {
	case !s.Configured:
		return colorize(mutedStyle, "not configured")
	case s.OK:
		return colorize(successStyle, "ok")
	default:
		return colorize(errorStyle, "error: "+s.Error)
	}
}

func countLabel(count, limit int) string {
	if count >= limit {
		return fmt.Sprintf("%d+", count)
	}
	return fmt.Sprintf("%d", count)
}
