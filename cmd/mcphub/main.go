// ABOUTME: Entry point for the mcphub server
// ABOUTME: Subcommands to serve the hub, write a config file and query a running hub

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/mcphub/internal/config"
	"github.com/2389/mcphub/internal/gateway"
	"github.com/2389/mcphub/internal/sse"
)

// Version is set at build time.
var version = "dev"

const banner = `
                      _           _
  _ __ ___   ___ _ __ | |__  _   _| |__
 | '_ ' _ \ / __| '_ \| '_ \| | | | '_ \
 | | | | | | (__| |_) | | | | |_| | |_) |
 |_| |_| |_|\___| .__/|_| |_|\__,_|_.__/
                |_|
`

// getConfigPath returns the path to the hub config file and whether it was
// chosen explicitly.
// Priority: MCPHUB_CONFIG env var > XDG_CONFIG_HOME/mcphub/config.yaml > ~/.config/mcphub/config.yaml
func getConfigPath() (string, bool) {
	if envPath := os.Getenv("MCPHUB_CONFIG"); envPath != "" {
		return envPath, true
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml", false
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "mcphub", "config.yaml"), false
}

// loadConfig loads the config file. A missing file at the default path
// means defaults; a missing file named by MCPHUB_CONFIG is an error.
func loadConfig() (*config.Config, string, error) {
	path, explicit := getConfigPath()
	cfg, err := config.LoadOrDefault(path, explicit)
	if err != nil {
		return nil, path, fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: mcphub <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve     Start the hub")
		fmt.Println("  init      Create a new config file interactively")
		fmt.Println("  health    Check hub health")
		fmt.Println("  servers   List configured upstream servers")
		fmt.Println("  version   Print the version")
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
	case "servers":
		err = runServers(ctx)
	case "version":
		fmt.Println(version)
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
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, configPath, err := loadConfig()
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      http://%s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Stream:    /stream, messages on %s\n", cfg.Server.MessagePath)
	green.Print("    ▶ ")
	fmt.Printf("Settings:  %s (%s)", cfg.Settings.Path, cfg.Settings.Backend)
	if cfg.Settings.Backend == config.DefaultSettingsBackend && cfg.Settings.WatchEnabled() {
		gray.Print(" [watched]")
	}
	fmt.Println()
	if cfg.Metrics.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Metrics:   %s\n", cfg.Metrics.Path)
	}
	if _, err := os.Stat(cfg.Server.StaticDir); err != nil {
		yellow.Printf("    ! dashboard directory %s not found, only the API is served\n", cfg.Server.StaticDir)
	}

	fmt.Println()

	logger.Info("starting mcphub",
		"version", version,
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

// hubURL returns the base URL of the hub described by cfg.
func hubURL(cfg *config.Config) string {
	return "http://" + cfg.Server.HTTPAddr
}

func getJSON(ctx context.Context, url string, v any) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func runHealth(ctx context.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	var report sse.HealthReport
	if err := getJSON(ctx, hubURL(cfg)+"/health", &report); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if report.Status != "ok" {
		return fmt.Errorf("unhealthy: status %q", report.Status)
	}

	fmt.Printf("healthy (%d open connections)\n", report.Connections)
	return nil
}

func runServers(ctx context.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	var resp struct {
		Success bool                 `json:"success"`
		Data    []gateway.ServerInfo `json:"data"`
		Message string               `json:"message"`
	}
	if err := getJSON(ctx, hubURL(cfg)+"/api/servers", &resp); err != nil {
		return fmt.Errorf("listing servers: %w", err)
	}
	if !resp.Success {
		return fmt.Errorf("listing servers: %s", resp.Message)
	}

	if len(resp.Data) == 0 {
		fmt.Println("no servers configured")
		return nil
	}

	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	gray := color.New(color.FgHiBlack)
	for _, srv := range resp.Data {
		state := gray.Sprint(srv.Status)
		switch srv.Status {
		case "connected":
			state = green.Sprint(srv.Status)
		case "error", "exited":
			state = red.Sprint(srv.Status)
		}
		fmt.Printf("%-24s %-12s %d tools\n", srv.Name, state, len(srv.Tools))
		if srv.Error != "" {
			gray.Printf("    %s\n", srv.Error)
		}
	}
	return nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("mcphub configuration setup")
	fmt.Println("==========================")
	fmt.Println()

	defaultConfigPath, _ := getConfigPath()
	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if !isYes(overwrite) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Server Configuration ---")
	httpAddr := prompt(reader, "HTTP address", config.DefaultHTTPAddr)
	staticDir := prompt(reader, "Dashboard directory", config.DefaultStaticDir)

	fmt.Println("\n--- Settings Storage ---")
	backend := prompt(reader, "Backend (file/sqlite)", config.DefaultSettingsBackend)
	defaultSettingsPath := config.DefaultSettingsPath
	if backend == "sqlite" {
		defaultSettingsPath = "mcphub.db"
	}
	settingsPath := prompt(reader, "Settings path", defaultSettingsPath)

	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	metricsEnabled := isYes(prompt(reader, "Enable Prometheus metrics?", "no"))

	content := renderConfig(initAnswers{
		HTTPAddr:       httpAddr,
		StaticDir:      staticDir,
		Backend:        backend,
		SettingsPath:   settingsPath,
		LogLevel:       logLevel,
		LogFormat:      logFormat,
		MetricsEnabled: metricsEnabled,
	})

	// Refuse to write something serve would reject.
	if _, err := config.Parse([]byte(content), "yaml"); err != nil {
		return fmt.Errorf("generated config is invalid: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(outputFile, []byte(content), 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Println("\nTo start the hub:")
	if outputFile != defaultConfigPath {
		fmt.Printf("  MCPHUB_CONFIG=%s mcphub serve\n", outputFile)
	} else {
		fmt.Println("  mcphub serve")
	}

	return nil
}

// initAnswers holds the values collected by runInit.
type initAnswers struct {
	HTTPAddr       string
	StaticDir      string
	Backend        string
	SettingsPath   string
	LogLevel       string
	LogFormat      string
	MetricsEnabled bool
}

func renderConfig(a initAnswers) string {
	var cfg strings.Builder
	cfg.WriteString("# mcphub configuration\n")
	cfg.WriteString("# Generated by mcphub init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: %q\n", a.HTTPAddr))
	cfg.WriteString(fmt.Sprintf("  static_dir: %q\n", a.StaticDir))
	cfg.WriteString(fmt.Sprintf("  message_path: %q\n", config.DefaultMessagePath))
	cfg.WriteString("\n")

	cfg.WriteString("hub:\n")
	cfg.WriteString(fmt.Sprintf("  name: %q\n", config.DefaultHubName))
	cfg.WriteString(fmt.Sprintf("  version: %q\n", config.DefaultHubVersion))
	cfg.WriteString("\n")

	cfg.WriteString("settings:\n")
	cfg.WriteString(fmt.Sprintf("  backend: %q\n", a.Backend))
	cfg.WriteString(fmt.Sprintf("  path: %q\n", a.SettingsPath))
	cfg.WriteString("  watch: true\n")
	cfg.WriteString("\n")

	cfg.WriteString("streams:\n")
	cfg.WriteString("  heartbeat_interval: \"30s\"\n")
	cfg.WriteString("  compat_heartbeat_interval: \"10s\"\n")
	cfg.WriteString("  compat_clients: [\"Cursor\"]\n")
	cfg.WriteString("\n")

	cfg.WriteString("tools:\n")
	cfg.WriteString("  call_timeout: \"30s\"\n")
	cfg.WriteString("  start_timeout: \"30s\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: %q\n", a.LogLevel))
	cfg.WriteString(fmt.Sprintf("  format: %q\n", a.LogFormat))
	cfg.WriteString("\n")

	cfg.WriteString("metrics:\n")
	cfg.WriteString(fmt.Sprintf("  enabled: %t\n", a.MetricsEnabled))
	cfg.WriteString(fmt.Sprintf("  path: %q\n", config.DefaultMetricsPath))

	return cfg.String()
}

func isYes(answer string) bool {
	answer = strings.ToLower(answer)
	return answer == "yes" || answer == "y"
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
