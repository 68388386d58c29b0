package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/Duke-GCB/DukeDSClient-sub000/internal/config"
	"github.com/Duke-GCB/DukeDSClient-sub000/internal/ddsapi"
)

// commonFlags are shared by the commands that talk to the data service.
type commonFlags struct {
	configPath *string
	url        *string
	auth       *string
	workers    *int
	debug      *bool
	progress   *bool
}

func addCommonFlags(fs *flag.FlagSet) commonFlags {
	return commonFlags{
		configPath: fs.String("config", "", "Config file (default: $DDSCLIENT_CONF or ~/.ddsclient)"),
		url:        fs.String("url", "", "Data service API URL"),
		auth:       fs.String("auth", "", "API token"),
		workers:    fs.Int("workers", 0, "Number of parallel workers (default from config)"),
		debug:      fs.Bool("debug", false, "Enable debug logging"),
		progress:   fs.Bool("progress", false, "Show progress output"),
	}
}

// load builds the config from files, environment and flags.
func (f commonFlags) load() (config.Config, error) {
	var cfg config.Config
	var err error
	if *f.configPath != "" {
		cfg, err = config.LoadFromFile(*f.configPath)
		if err == nil {
			err = cfg.LoadFromEnv()
		}
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return config.Config{}, err
	}

	cfg = cfg.Merge(config.Config{
		URL:             *f.url,
		Auth:            *f.auth,
		UploadWorkers:   *f.workers,
		DownloadWorkers: *f.workers,
		Debug:           *f.debug,
	})
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func newLogger(debug bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().Timestamp().Logger()
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "\n[ddsclient] Received interrupt, shutting down...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

// resolveAuth exchanges agent and user keys for a token when no token is
// configured.
func resolveAuth(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	if cfg.Auth != "" {
		return nil
	}
	if cfg.AgentKey == "" || cfg.UserKey == "" {
		return fmt.Errorf("no auth token: set auth, or agent_key and user_key, in the config")
	}
	client := ddsapi.NewClient(cfg.Connection())
	client.SetLogger(logger)
	token, err := client.GetAPIToken(ctx, cfg.AgentKey, cfg.UserKey)
	if err != nil {
		return fmt.Errorf("exchange keys for token: %w", err)
	}
	cfg.Auth = token.Token
	return nil
}

// statusPrinter reports service outages on stderr.
func statusPrinter(msg string) {
	if msg != "" {
		fmt.Fprintln(os.Stderr, "[ddsclient] "+msg)
	}
}
