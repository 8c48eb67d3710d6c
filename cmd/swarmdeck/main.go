// ABOUTME: Entry point for the swarmdeck agent registry server
// ABOUTME: Discovers and tracks live coding-agent sessions for the dashboard

package main

import (
	"context"
	"encoding/json"
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

	"github.com/swarmdeck/swarmdeck/internal/broadcast"
	"github.com/swarmdeck/swarmdeck/internal/config"
	"github.com/swarmdeck/swarmdeck/internal/discovery"
	"github.com/swarmdeck/swarmdeck/internal/monitor"
	"github.com/swarmdeck/swarmdeck/internal/registry"
	"github.com/swarmdeck/swarmdeck/internal/server"
	"github.com/swarmdeck/swarmdeck/internal/sessionwatch"
	"github.com/swarmdeck/swarmdeck/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                                             _         _
 ___ __      ____ _ _ __ _ __ ___    __| |  ___  ___| | __
/ __|\ \ /\ / / _' | '__| '_ ' _ \  / _' | / _ \/ __| |/ /
\__ \ \ V  V / (_| | |  | | | | | || (_| ||  __/ (__|   <
|___/  \_/\_/ \__,_|_|  |_| |_| |_| \__,_| \___|\___|_|\_\
`

// getConfigPath returns the path to the swarmdeck config file.
// Priority: SWARMDECK_CONFIG env var > ./config.yaml > XDG_CONFIG_HOME/swarmdeck/config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("SWARMDECK_CONFIG"); envPath != "" {
		return envPath
	}

	if _, err := os.Stat("config.yaml"); err == nil {
		return "config.yaml"
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "swarmdeck", "config.yaml")
}

// loadConfig reads the config file, falling back to defaults when none exists.
func loadConfig() (*config.Config, string, error) {
	configPath := getConfigPath()
	if _, err := os.Stat(configPath); err != nil {
		return config.Default(), "(defaults)", nil
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, configPath, err
	}
	return cfg, configPath, nil
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: swarmdeck <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve    Start the registry server")
		fmt.Println("  health   Check server health")
		fmt.Println("  agents   List tracked agents")
		fmt.Println("  scan     Trigger a process scan on the running server")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "health":
		err = runHealth(ctx)
	case "agents":
		err = runAgents(ctx)
	case "scan":
		err = runScan(ctx)
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
	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, configPath, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:     %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:       %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database:   %s\n", cfg.Database.Path)
	green.Print("    ▶ ")
	fmt.Printf("Executable: %s\n", cfg.Discovery.Executable)
	fmt.Println()

	logger.Info("starting swarmdeck",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"cleanup_interval", cfg.Monitor.CleanupInterval,
	)

	db, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}

	reg := registry.New(logger)
	counters := registry.NewTaskCounters()
	bus := broadcast.New(logger)
	scanner := discovery.NewScanner(reg, cfg.Discovery.Executable, logger)

	watcher := sessionwatch.New(reg, cfg.Sessions.WatchDirs, logger)
	if err := watcher.Start(); err != nil {
		logger.Warn("session watcher unavailable", "error", err)
	}

	sweep := monitor.New(reg, counters, scanner, bus, db, watcher.Observations(), cfg.Monitor.CleanupInterval, logger)
	sweep.Start()

	// Prime the registry before the first tick.
	if found := scanner.Scan(); found > 0 {
		logger.Info("initial scan complete", "found", found)
	}

	srv := server.New(server.Options{
		Registry: reg,
		Counters: counters,
		Scanner:  scanner,
		Sweep:    sweep,
		Bus:      bus,
		DB:       db,
		Logger:   logger,
	})
	srv.Start(cfg.Server.HTTPAddr)

	<-ctx.Done()
	logger.Info("shutting down")

	// Background loops stop before the shared store closes.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown failed", "error", err)
	}
	sweep.Stop()
	watcher.Stop()
	bus.Close()
	if err := db.Close(); err != nil {
		logger.Warn("closing store failed", "error", err)
	}
	return nil
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

	// Format timestamp
	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	// Colorize level
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

	// Print message
	buf.WriteString(r.Message)

	// Print handler-level attrs first (from WithAttrs)
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	// Print record attrs
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

// serverURL builds a request URL against the configured HTTP address.
func serverURL(cfg *config.Config, path string) string {
	addr := cfg.Server.HTTPAddr
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr + path
}

func runHealth(ctx context.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, serverURL(cfg, "/health"), nil)
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

	var body struct {
		Status string         `json:"status"`
		Agents int            `json:"agents"`
		Queue  map[string]int `json:"taskQueue"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	fmt.Printf("healthy (%d agents tracked)\n", body.Agents)
	return nil
}

func runAgents(ctx context.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, serverURL(cfg, "/api/agents"), nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("listing agents failed: %w", err)
	}
	defer resp.Body.Close()

	var agents []struct {
		ID               string `json:"id"`
		Name             string `json:"name"`
		Status           string `json:"status"`
		CurrentTask      string `json:"currentTask"`
		WorkingDirectory string `json:"workingDirectory"`
		PID              int    `json:"pid"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&agents); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	if len(agents) == 0 {
		fmt.Println("No agents tracked")
		return nil
	}

	for _, a := range agents {
		line := fmt.Sprintf("%-20s %-12s", a.Name, a.Status)
		if a.PID != 0 {
			line += fmt.Sprintf(" pid=%d", a.PID)
		}
		if a.WorkingDirectory != "" {
			line += " " + a.WorkingDirectory
		}
		if a.CurrentTask != "" {
			line += "  " + a.CurrentTask
		}
		fmt.Println(line)
	}
	return nil
}

func runScan(ctx context.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, serverURL(cfg, "/scan"), nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("scan request failed: %w", err)
	}
	defer resp.Body.Close()

	var body struct {
		Found int `json:"found"`
		Total int `json:"total"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	fmt.Printf("found %d new agents (%d total)\n", body.Found, body.Total)
	return nil
}
