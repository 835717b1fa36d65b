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
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/tutord/internal/api"
	"github.com/kalambet/tutord/internal/composer"
	"github.com/kalambet/tutord/internal/config"
	"github.com/kalambet/tutord/internal/device"
	"github.com/kalambet/tutord/internal/engine"
	"github.com/kalambet/tutord/internal/models"
	"github.com/kalambet/tutord/internal/profile"
	"github.com/kalambet/tutord/internal/provider"
	"github.com/kalambet/tutord/internal/routing"
	"github.com/kalambet/tutord/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the tutord daemon (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running tutord daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show tutord system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "tutord.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, fmt.Appendf(nil, "%d\n", os.Getpid()), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("malformed pid file %s: %w", path, err)
	}
	return pid, nil
}

// runningDaemonPID probes the health endpoint. When a daemon answers,
// it returns the PID from the pid file, or zero if the file is gone.
func runningDaemonPID(port int, pidPath string) (int, bool) {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/health", port))
	if err != nil {
		return 0, false
	}
	resp.Body.Close()
	pid, err := readPIDFile(pidPath)
	if err != nil {
		return 0, true
	}
	return pid, true
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "tutord version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Initialize structured logging.
	logLevel := slog.LevelInfo
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// A second daemon on the same port would fight over the queue, so
	// probe the health endpoint before claiming the PID file.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	if pid, up := runningDaemonPID(cfg.Server.Port, pidPath); up {
		if pid != 0 {
			printWarning("tutord is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("tutord is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer os.Remove(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open storage and requeue downloads the last shutdown interrupted.
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			slog.Warn("closing storage", "error", cerr)
		}
	}()
	if n, err := store.RequeueStuckJobs(); err != nil {
		slog.Warn("requeueing interrupted downloads", "error", err)
	} else if n > 0 {
		slog.Info("requeued interrupted downloads", "count", n)
	}

	// Device signals: detection first, config overrides where set.
	snap := device.Detect()
	tier := snap.Tier()
	if cfg.Device.Tier != "" {
		tier = routing.ParseDeviceTier(cfg.Device.Tier)
	}
	var network routing.NetworkProbe = device.NewProber(cfg.Device.ProbeURL)
	if cfg.Device.Network != "" {
		quality, err := routing.ParseNetworkQuality(cfg.Device.Network)
		if err != nil {
			return fmt.Errorf("device.network: %w", err)
		}
		network = routing.StaticNetwork(quality)
	}
	slog.Info("device snapshot",
		"ram_mb", snap.TotalRAMMB,
		"tier", tier.String(),
		"backend", device.SelectBackend(snap).String())

	// Model catalog and download pipeline.
	catalog := models.DefaultCatalog()
	manager := models.NewManager(cfg.Models.Dir, catalog)
	manager.Subscribe(models.RecordEvents(store))
	worker := models.NewWorker(store, manager, 500*time.Millisecond)

	profileMgr := profile.NewManager(store)

	router := routing.NewRouter(routing.NewTable(), tier, network, profileMgr)
	router.SetRecorder(routing.NewStoreRecorder(store))
	router.SetComposer(composer.New(profileMgr, 0))

	if cfg.Providers.AnthropicAPIKey != "" {
		p := provider.NewAnthropic(cfg.Providers.AnthropicAPIKey)
		if cfg.Providers.AnthropicModel != "" {
			p.SetModel(cfg.Providers.AnthropicModel)
		}
		router.Register(p)
	}
	if cfg.Providers.OpenAIAPIKey != "" {
		p := provider.NewOpenAI(cfg.Providers.OpenAIAPIKey)
		if cfg.Providers.OpenAIModel != "" {
			p.SetModel(cfg.Providers.OpenAIModel)
		}
		router.Register(p)
	}
	router.Register(provider.NewEdge(cfg.Providers.EdgeBaseURL, cfg.Providers.EdgeModel))

	// The native engine loads only when a downloaded model matches the
	// device. A missing model is not an error: downloads happen later
	// and the router works without the on-device lane.
	if cfg.OnDevice.Enabled {
		eng := engine.NewServer("")
		defer eng.Close()
		if name, ok := pickOnDeviceModel(cfg, snap, catalog); ok {
			if !manager.Downloaded(name) {
				slog.Info("on-device model not downloaded, native provider disabled", "model", name)
			} else if err := eng.Load(manager.Path(name), engineConfig(cfg, snap, catalog, name)); err != nil {
				slog.Warn("loading on-device model", "model", name, "error", err)
			} else {
				router.Register(provider.NewOnDevice(eng))
				slog.Info("on-device model loaded", "model", name)
			}
		}
	}

	slog.Info("providers registered", "providers", providerNames(router))

	appHandler := api.NewAppHandler(api.AppDeps{
		Router:     router,
		Manager:    manager,
		Store:      store,
		Profile:    profileMgr,
		Token:      cfg.Server.AuthToken,
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: appHandler,
	}

	// MCP rides stdio so clients can spawn `tutord serve` directly.
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Router:  router,
		Manager: manager,
		Store:   store,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	// HTTP server and download worker run under one group; the third
	// goroutine turns a signal or a sibling failure into a shutdown.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		fmt.Fprintf(os.Stderr, "tutord listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		worker.Run(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")
		router.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// pickOnDeviceModel resolves the configured model name, falling back to
// the largest catalog model the device can hold.
func pickOnDeviceModel(cfg config.Config, snap device.Snapshot, catalog *models.Catalog) (string, bool) {
	if cfg.OnDevice.Model != "" {
		return cfg.OnDevice.Model, true
	}
	spec, ok := catalog.Best(snap)
	if !ok {
		slog.Info("no catalog model fits this device", "ram_mb", snap.TotalRAMMB)
		return "", false
	}
	return spec.Name, true
}

// engineConfig merges catalog metadata with config overrides. The
// context window never exceeds what the model was published with, and
// any detected accelerator takes the whole model off the CPU.
func engineConfig(cfg config.Config, snap device.Snapshot, catalog *models.Catalog, name string) provider.EngineConfig {
	ec := provider.EngineConfig{
		ContextSize: cfg.OnDevice.ContextSize,
		Threads:     cfg.OnDevice.Threads,
		Temperature: cfg.OnDevice.Temperature,
		MaxTokens:   cfg.OnDevice.MaxTokens,
	}
	if spec, ok := catalog.Get(name); ok && spec.ContextSize > 0 && (ec.ContextSize == 0 || ec.ContextSize > spec.ContextSize) {
		ec.ContextSize = spec.ContextSize
	}
	if device.SelectBackend(snap) != device.BackendCPU {
		ec.GPULayers = 99
	}
	return ec
}

func providerNames(r *routing.Router) []string {
	m := r.Providers()
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
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
		printError("tutord is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	if err := signalDaemon(pid); err != nil {
		printError("could not stop tutord (PID %d): %v", pid, err)
		// A stale PID file would block every later stop attempt.
		os.Remove(pidPath)
		return err
	}
	printSuccess("Sent stop signal to tutord (PID %d)", pid)
	return nil
}

func signalDaemon(pid int) error {
	process, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return process.Signal(syscall.SIGTERM)
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}
	running := reportServerHealth(client, serverURL, cfg.Server.Port)

	// Provider configuration comes straight from config.
	printStatus("Anthropic", "%s", keyLabel(cfg.Providers.AnthropicAPIKey))
	printStatus("OpenAI", "%s", keyLabel(cfg.Providers.OpenAIAPIKey))
	edgeURL := cfg.Providers.EdgeBaseURL
	if edgeURL == "" {
		edgeURL = "default (local Ollama)"
	}
	printStatus("Edge", "%s", edgeURL)

	// Show model states if the server is running.
	if running {
		modelsResp, err := apiGet(client, serverURL+"/v1/models", cfg.Server.AuthToken)
		if err == nil {
			var list struct {
				Data []modelRow `json:"data"`
			}
			if json.NewDecoder(modelsResp.Body).Decode(&list) == nil {
				downloaded := 0
				for _, m := range list.Data {
					if m.Downloaded {
						downloaded++
					}
				}
				printStatus("Models", "%d/%d downloaded", downloaded, len(list.Data))
			}
			modelsResp.Body.Close()
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

// reportServerHealth prints the daemon's state and reports whether it
// answered the health check.
func reportServerHealth(client *http.Client, serverURL string, port int) bool {
	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
		return false
	}
	resp.Body.Close()
	if resp.StatusCode != 200 {
		printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		return false
	}
	printStatus("Server", "running on port %d", port)
	return true
}

func keyLabel(key string) string {
	if key != "" {
		return "key configured"
	}
	return "no key"
}

func apiGet(client *http.Client, url, token string) (*http.Response, error) {
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return client.Do(req)
}
