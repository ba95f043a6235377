// Command seltrust runs the selector reliability engine: it learns which
// extraction selectors can be trusted per shop domain and serves the
// recommendations over HTTP, MCP and connectivity.
//
// Usage:
//
//	seltrust -config seltrust.yaml          # run with config file
//	seltrust -db seltrust.db -addr :8091    # run with defaults
//	seltrust -db seltrust.db -stats         # show stats and exit
//	seltrust -db seltrust.db -drain         # analyse queued captures and exit
//	seltrust -mcp stdio -db seltrust.db     # serve MCP on stdin/stdout
//	seltrust -hash-token                    # read a token on stdin, print its bcrypt hash
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/seltrust/connectivity"
	"github.com/hazyhaar/seltrust/horosafe"
	"github.com/hazyhaar/seltrust/selectors"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to seltrust.yaml config file")
	dbPath := flag.String("db", "", "path to SQLite database")
	addr := flag.String("addr", "", "HTTP listen address (overrides config)")
	mcpMode := flag.String("mcp", "http", "MCP transport: http (mounted at /mcp), stdio, off")
	showStats := flag.Bool("stats", false, "show stats and exit")
	drain := flag.Bool("drain", false, "analyse every queued capture and exit")
	hashToken := flag.Bool("hash-token", false, "read an admin token on stdin and print its bcrypt hash")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	if *hashToken {
		if err := printTokenHash(); err != nil {
			fmt.Fprintln(os.Stderr, "seltrust:", err)
			os.Exit(1)
		}
		return
	}

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := runOptions{stats: *showStats, drain: *drain, mcp: *mcpMode}
	if err := run(ctx, logger, *configPath, *dbPath, *addr, opts); err != nil {
		logger.Error("seltrust: fatal", "error", err)
		os.Exit(1)
	}
}

type runOptions struct {
	stats bool
	drain bool
	mcp   string
}

func run(ctx context.Context, logger *slog.Logger, configPath, dbPath, addr string, opts runOptions) error {
	cfg, err := resolveConfig(configPath, dbPath)
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.HTTPAddr = addr
	}

	router := connectivity.New(connectivity.WithLogger(logger))
	router.RegisterTransport("http", connectivity.HTTPFactory())
	defer router.Close()

	e, err := selectors.New(cfg, logger, selectors.WithRouter(router))
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	defer e.Close()
	e.RegisterConnectivity(router)

	// One-shot: stats.
	if opts.stats {
		stats, err := e.Stats(ctx)
		if err != nil {
			return fmt.Errorf("stats: %w", err)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	}

	// One-shot: drain.
	if opts.drain {
		if err := e.DrainQueue(ctx); err != nil {
			return fmt.Errorf("drain: %w", err)
		}
		logger.Info("seltrust: queue drained")
		return nil
	}

	mcpSrv := mcp.NewServer(&mcp.Implementation{Name: "seltrust", Version: version}, nil)
	e.RegisterMCP(mcpSrv)

	go router.Watch(ctx, e.DB(), 5*time.Second)
	e.Start(ctx)

	if opts.mcp == "stdio" {
		logger.Info("seltrust: serving MCP on stdio", "db", cfg.DBPath)
		if err := mcpSrv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
			return fmt.Errorf("mcp stdio: %w", err)
		}
		return nil
	}

	r := chi.NewRouter()
	if opts.mcp == "http" {
		r.Handle("/mcp", mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return mcpSrv }, nil))
	}
	r.Mount("/", e.Handler())

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("seltrust: listening", "addr", cfg.HTTPAddr, "db", cfg.DBPath, "mcp", opts.mcp)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http: %w", err)
		}
	}

	logger.Info("seltrust: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("seltrust: shutdown", "error", err)
	}
	return nil
}

func resolveConfig(configPath, dbPath string) (*selectors.Config, error) {
	if configPath != "" {
		cfg, err := selectors.LoadConfigFile(configPath)
		if err != nil {
			return nil, err
		}
		if dbPath != "" {
			cfg.DBPath = dbPath
		}
		return cfg, nil
	}

	cfg := &selectors.Config{DBPath: dbPath}
	if hash := os.Getenv("SELTRUST_ADMIN_TOKEN_HASH"); hash != "" {
		cfg.AdminTokenHash = hash
	}
	return cfg, nil
}

// printTokenHash reads one line from stdin and prints the bcrypt hash to
// put in admin_token_hash.
func printTokenHash() error {
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return fmt.Errorf("read token: %w", err)
	}
	token := strings.TrimSpace(line)
	if err := horosafe.ValidateSecret([]byte(token)); err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	fmt.Println(string(hash))
	return nil
}
