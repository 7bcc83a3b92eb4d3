// Package app wires configuration, logging, the service client and the
// development service together for the CLI.
package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/Harjotraith04/Time-Table-Generation-AI-Tool-sub001/internal/catalog"
	"github.com/Harjotraith04/Time-Table-Generation-AI-Tool-sub001/internal/config"
	"github.com/Harjotraith04/Time-Table-Generation-AI-Tool-sub001/internal/db"
	"github.com/Harjotraith04/Time-Table-Generation-AI-Tool-sub001/internal/domain"
	"github.com/Harjotraith04/Time-Table-Generation-AI-Tool-sub001/internal/engine"
	"github.com/Harjotraith04/Time-Table-Generation-AI-Tool-sub001/internal/logging"
	"github.com/Harjotraith04/Time-Table-Generation-AI-Tool-sub001/internal/migrate"
	"github.com/Harjotraith04/Time-Table-Generation-AI-Tool-sub001/internal/orchestrator"
	"github.com/Harjotraith04/Time-Table-Generation-AI-Tool-sub001/internal/readiness"
	"github.com/Harjotraith04/Time-Table-Generation-AI-Tool-sub001/internal/server"
	"github.com/Harjotraith04/Time-Table-Generation-AI-Tool-sub001/internal/settings"
	timetablesdk "github.com/Harjotraith04/Time-Table-Generation-AI-Tool-sub001/sdk/go"
)

// Overrides are connection settings taken from flags or the environment.
// Empty fields keep the config file value.
type Overrides struct {
	ServerURL string
	Token     string
	APIKey    string
	LogLevel  string
}

// LoadConfig reads timetable.yml from workspace (defaults when absent),
// applies overrides and validates the result.
func LoadConfig(workspace string, o Overrides) (*config.Config, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if v := strings.TrimSpace(o.ServerURL); v != "" {
		cfg.Service.URL = v
	}
	if v := strings.TrimSpace(o.Token); v != "" {
		cfg.Service.Token = v
	}
	if v := strings.TrimSpace(o.APIKey); v != "" {
		cfg.Service.APIKey = v
	}
	if v := strings.TrimSpace(o.LogLevel); v != "" {
		cfg.Logging.Level = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// NewLogger opens the configured log sink. Relative file paths resolve
// against the workspace.
func NewLogger(workspace string, cfg *config.Config) (*logging.Logger, error) {
	path := cfg.Logging.File
	if path != "" && !filepath.IsAbs(path) {
		path = filepath.Join(workspace, path)
	}
	return logging.New(path, cfg.Logging.Level)
}

// NewClient builds the service client from config.
func NewClient(cfg *config.Config) *timetablesdk.Client {
	c := timetablesdk.New(cfg.Service.URL)
	c.BearerToken = cfg.Service.Token
	c.APIKey = cfg.Service.APIKey
	if cfg.Service.RequestTimeout > 0 {
		c.HTTPClient = &http.Client{Timeout: cfg.Service.RequestTimeout}
	}
	return c
}

// OpenEngine opens and migrates the workspace database and returns the
// development service engine. The returned func closes the database.
func OpenEngine(ctx context.Context, workspace string, cfg *config.Config, log *slog.Logger) (engine.Engine, func() error, error) {
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		return engine.Engine{}, nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return engine.Engine{}, nil, err
	}
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		conn.Close()
		return engine.Engine{}, nil, fmt.Errorf("migrate: %w", err)
	}
	e := engine.New(conn, cfg)
	if log != nil {
		e.Log = log
	}
	return e, conn.Close, nil
}

// Seed marks every validation domain not yet recorded as completed (ready)
// or pending.
func Seed(ctx context.Context, e engine.Engine, ready bool) error {
	status := domain.DomainStatusPending
	if ready {
		status = domain.DomainStatusCompleted
	}
	return e.SeedDomains(ctx, status, engine.SystemActor)
}

// ServiceSecret returns the configured JWT secret or a random one for this
// process. A random secret invalidates tokens on restart.
func ServiceSecret(cfg *config.Config) (string, bool, error) {
	if s := strings.TrimSpace(cfg.Server.JWTSecret); s != "" {
		return s, false, nil
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", false, err
	}
	return hex.EncodeToString(buf), true, nil
}

// NewService builds the development service handler.
func NewService(e engine.Engine, cfg *config.Config, secret string, log *slog.Logger) (http.Handler, error) {
	return server.New(server.Config{
		Engine:   e,
		BasePath: cfg.Server.BasePath,
		Auth: server.AuthConfig{
			JWTSecret: secret,
			DevLogin:  cfg.Server.DevAuth,
			Logger:    log,
		},
	})
}

// Serve runs the development service until ctx is done: the HTTP API, the
// job sweeper and webhook delivery.
func Serve(ctx context.Context, e engine.Engine, cfg *config.Config, handler http.Handler, log *slog.Logger) error {
	if log == nil {
		log = logging.Discard()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go e.RunSweeper(ctx, cfg.Server.Simulation.SweepInterval)
	server.StartWebhooks(ctx, e, cfg.Server.Webhooks, log)

	srv := &http.Server{Addr: cfg.Server.Addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		srv.Shutdown(shutdownCtx)
	}()
	log.Info("service listening", "addr", cfg.Server.Addr, "base_path", cfg.Server.BasePath)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// LoadSettings fetches the catalog from src and seeds an editable settings
// model with the configured defaults.
func LoadSettings(ctx context.Context, src catalog.Source, cfg *config.Config) (*settings.Settings, catalog.Catalog, error) {
	cat, err := catalog.Load(ctx, src)
	if err != nil {
		return nil, catalog.Catalog{}, err
	}
	s, err := settings.New(cat, cfg.Generation.Defaults)
	if err != nil {
		return nil, catalog.Catalog{}, fmt.Errorf("config.generation.defaults: %w", err)
	}
	return s, cat, nil
}

// Request builds the submission payload from s and the configured request
// metadata and working week.
func Request(s *settings.Settings, cfg *config.Config) (domain.GenerationRequest, error) {
	if err := s.Validate(); err != nil {
		return domain.GenerationRequest{}, err
	}
	return s.Payload(cfg.Generation.Request, cfg.Generation.WorkingWeek), nil
}

// GenerateOptions controls one CLI generation run.
type GenerateOptions struct {
	// Wait keeps polling until the job ends; otherwise Generate returns once
	// the job is accepted.
	Wait     bool
	OnUpdate func(orchestrator.View)
}

// Generate reads readiness, submits req and, when asked, follows the job to a
// terminal state. It returns the final view and the error it carries.
func Generate(ctx context.Context, client orchestrator.JobService, src readiness.Source, req domain.GenerationRequest, cfg *config.Config, log *slog.Logger, opts GenerateOptions) (orchestrator.View, error) {
	snap, err := readiness.NewReader(src).Read(ctx)
	if err != nil {
		return orchestrator.View{}, err
	}
	orch := orchestrator.New(client, orchestrator.Options{
		Interval: cfg.Polling.Interval,
		Timeout:  cfg.Polling.Timeout,
		Logger:   log,
	})
	if _, err := orch.RequestGeneration(ctx, req, snap); err != nil {
		return orch.View(), err
	}
	if !opts.Wait {
		orch.CancelPolling()
		return orch.View(), nil
	}
	for {
		select {
		case <-ctx.Done():
			orch.CancelPolling()
			return orch.View(), ctx.Err()
		case v := <-orch.Updates():
			if opts.OnUpdate != nil {
				opts.OnUpdate(v)
			}
			if v.State != orchestrator.StatePolling && v.State != orchestrator.StateSubmitting {
				return v, v.Err
			}
		}
	}
}
