// ABOUTME: Entry point for the chat gateway server
// ABOUTME: Pairs merchants with the AI agent over WebSocket sessions

package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/hirecj/chat-gateway/internal/agent"
	"github.com/hirecj/chat-gateway/internal/background"
	"github.com/hirecj/chat-gateway/internal/config"
	"github.com/hirecj/chat-gateway/internal/gateway"
	"github.com/hirecj/chat-gateway/internal/httpapi"
	"github.com/hirecj/chat-gateway/internal/identity"
	"github.com/hirecj/chat-gateway/internal/progress"
	"github.com/hirecj/chat-gateway/internal/session"
	"github.com/hirecj/chat-gateway/internal/store"
	"github.com/hirecj/chat-gateway/internal/workflow"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
        _           _                     _
   ___ | |__   __ _| |_       __ _  __ _| |_ _____      ____ _ _   _
  / __ | '_ \ / _' | __|____ / _' |/ _' | __/ _ \ \ /\ / / _' | | | |
 | (__ | | | | (_| | ||_____| (_| | (_| | ||  __/\ V  V / (_| | |_| |
  \___ |_| |_|\__,_|\__|     \__, |\__,_|\__\___| \_/\_/ \__,_|\__, |
                             |___/                             |___/
`

// getConfigPath returns the path to the gateway config file.
// Priority: CHAT_GATEWAY_CONFIG env var > XDG_CONFIG_HOME/chat-gateway/config.yaml
// > ~/.config/chat-gateway/config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("CHAT_GATEWAY_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "chat-gateway", "config.yaml")
}

// getDataPath returns the path to the data directory.
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "chat-gateway")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: chat-gateway <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve    Start the gateway server")
		fmt.Println("  init     Create a config file with sensible defaults")
		fmt.Println("  health   Check gateway health")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "health":
		err = runHealth(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	// Local .env values feed the ${VAR} expansion in the config file.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "warning: loading .env: %v\n", err)
	}

	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Path)
	green.Print("    ▶ ")
	fmt.Printf("Agent:     %s\n", cfg.Agent.Provider)
	fmt.Println()

	logger.Info("starting chat-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"agent_provider", cfg.Agent.Provider,
	)

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	sessions := session.NewManager(session.ManagerParams{
		Store:           st,
		Logger:          logger,
		IdleTimeout:     cfg.Session.IdleTimeout,
		CleanupInterval: cfg.Session.CleanupInterval,
		ContextWindow:   cfg.Agent.ContextWindow,
	})
	go sessions.Run(ctx)

	catalog, err := loadCatalog(cfg.Workflows.Dir)
	if err != nil {
		return fmt.Errorf("loading workflows: %w", err)
	}
	machine := workflow.NewMachine(catalog, sessions, logger)

	var (
		generator agent.ResponseGenerator
		checkFn   background.CheckFunc
		extractFn background.ExtractFunc
	)
	switch cfg.Agent.Provider {
	case "openai":
		g := agent.NewOpenAIGenerator(cfg.Agent.APIKey, cfg.Agent.BaseURL, cfg.Agent.Model, logger)
		generator, checkFn, extractFn = g, g.CheckFact, g.ExtractFacts
	default:
		g := agent.NewFakeGenerator()
		generator, checkFn, extractFn = g, g.CheckFact, g.ExtractFacts
	}

	coordinator := background.NewCoordinator(ctx, logger)
	checker := background.NewFactChecker(coordinator, st, checkFn, logger)
	extractor := background.NewExtractor(coordinator, st, extractFn, 0, logger)
	reporter := progress.NewReporter(logger)

	var (
		idp    identity.Provider = identity.AnonymousProvider{}
		tokens *identity.JWTProvider
	)
	if cfg.Auth.JWTSecret != "" {
		tokens = identity.NewJWTProvider([]byte(cfg.Auth.JWTSecret))
		idp = tokens
	}

	connMgr := gateway.NewConnManager(sessions, machine, generator, checker, extractor,
		reporter, idp, gateway.Options{
			AllowedOrigin:      cfg.Server.AllowedOrigin,
			DefaultWorkflow:    cfg.Workflows.DefaultWorkflow,
			ContextWindow:      cfg.Agent.ContextWindow,
			HeartbeatInterval:  cfg.Heartbeat.Interval,
			HeartbeatTimeout:   cfg.Heartbeat.Timeout,
			PollInterval:       cfg.FactCheck.PollInterval,
			PollTimeout:        cfg.FactCheck.PollTimeout,
			OAuthRecencyWindow: cfg.OAuth.RecencyWindow,
		}, logger)

	api := httpapi.NewServer(sessions, checker, st, catalog,
		cfg.Workflows.DefaultWorkflow, tokens, connMgr, logger)

	srv := &http.Server{
		Addr:        cfg.Server.HTTPAddr,
		Handler:     api.Router(),
		ReadTimeout: 30 * time.Second,
		// WebSocket connections are long-lived; no write timeout.
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}
	if !coordinator.Drain(10 * time.Second) {
		logger.Warn("background jobs still outstanding at shutdown")
	}
	sessions.CloseAll(shutdownCtx)

	logger.Info("stopped")
	return nil
}

// loadCatalog loads workflow definitions from dir, falling back to a
// minimal built-in catalog when no directory is configured.
func loadCatalog(dir string) (workflow.Catalog, error) {
	if dir != "" {
		return workflow.LoadDir(dir)
	}
	return &workflow.StaticCatalog{Defs: map[string]*workflow.Definition{
		"support": {
			Name:         "support",
			SystemPrompt: "You are a helpful support agent for a merchant.",
		},
	}}, nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	buf.WriteString(r.Message)

	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}

// runInit writes a starter config file with a random JWT secret.
func runInit() error {
	configPath := getConfigPath()
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config already exists: %s", configPath)
	}

	dataPath := getDataPath()
	dbPath := filepath.Join(dataPath, "chat-gateway.db")

	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return fmt.Errorf("generating JWT secret: %w", err)
	}
	jwtSecret := base64.StdEncoding.EncodeToString(secretBytes)

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.MkdirAll(dataPath, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	configContent := fmt.Sprintf(`# chat-gateway configuration
# Generated by chat-gateway init

server:
  http_addr: "localhost:8080"

database:
  path: "%s"

auth:
  jwt_secret: "%s"

agent:
  provider: "fake"
  # provider: "openai"
  # model: "gpt-4o"
  # api_key: "${OPENAI_API_KEY}"

workflows:
  default: "support"

session:
  idle_timeout: "30m"
  cleanup_interval: "1m"

heartbeat:
  interval: "30s"
  timeout: "10s"

fact_check:
  poll_interval: "500ms"
  poll_timeout: "30s"

oauth:
  recency_window: "5m"

logging:
  level: "info"
  format: "text"
`, dbPath, jwtSecret)

	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("  ✓ Created config: %s\n", configPath)
	fmt.Println("  Edit it, then run: chat-gateway serve")
	return nil
}

func runHealth(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/health", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}
