package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/Mindburn-Labs/chatops/pkg/artifacts"
	"github.com/Mindburn-Labs/chatops/pkg/authz"
	"github.com/Mindburn-Labs/chatops/pkg/checks"
	"github.com/Mindburn-Labs/chatops/pkg/commands"
	"github.com/Mindburn-Labs/chatops/pkg/config"
	"github.com/Mindburn-Labs/chatops/pkg/conversation"
	"github.com/Mindburn-Labs/chatops/pkg/credentials"
	"github.com/Mindburn-Labs/chatops/pkg/dispatcher"
	"github.com/Mindburn-Labs/chatops/pkg/observability"
	"github.com/Mindburn-Labs/chatops/pkg/statestore"
	"github.com/Mindburn-Labs/chatops/pkg/sweeper"
	"github.com/Mindburn-Labs/chatops/pkg/vcs"
)

// app is the wired process: stores, clients and the dispatcher.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	obs        *observability.Provider
	state      statestore.Store
	convs      conversation.Store
	artifacts  artifacts.Store
	vcs        *vcs.Client
	checks     *checks.Runner
	authz      *authz.Engine
	dispatcher *dispatcher.Dispatcher
	sweeper    *sweeper.Sweeper
}

func newLogger(level, format string, w io.Writer) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// loadConfig reads and validates the environment configuration.
func loadConfig() (*config.Config, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newAuthz builds the RBAC engine from the configured matrix file, or the
// default matrix when none is set.
func newAuthz(cfg config.RBACConfig) (*authz.Engine, error) {
	matrix := authz.DefaultMatrix()
	if cfg.MatrixPath != "" {
		m, err := authz.LoadMatrix(cfg.MatrixPath)
		if err != nil {
			return nil, err
		}
		matrix = m
	}
	return authz.NewEngine(matrix,
		authz.WithEnabled(cfg.Enabled),
		authz.WithAdminRoles(cfg.AdminRoleIDs...),
	), nil
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *app, err error) {
	slog.SetDefault(logger)
	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.close(context.WithoutCancel(ctx))
		}
	}()

	if a.obs, err = observability.New(ctx, observability.FromConfig(cfg.Environment, cfg.Observability)); err != nil {
		return nil, fmt.Errorf("observability: %w", err)
	}
	if a.authz, err = newAuthz(cfg.RBAC); err != nil {
		return nil, err
	}

	if a.state, err = statestore.Open(ctx, cfg.Persistence, cfg.Environment,
		statestore.WithLogger(logger.With("component", "statestore"))); err != nil {
		return nil, fmt.Errorf("state store: %w", err)
	}
	if a.convs, err = conversation.Open(ctx, cfg.Persistence, cfg.Environment,
		conversation.WithLogger(logger.With("component", "conversation"))); err != nil {
		return nil, fmt.Errorf("conversation store: %w", err)
	}
	if a.artifacts, err = artifacts.Open(ctx, cfg.Artifacts); err != nil {
		return nil, fmt.Errorf("artifact store: %w", err)
	}

	switch client, verr := vcs.NewFromConfig(cfg.VCS, vcs.WithLogger(logger.With("component", "vcs"))); {
	case errors.Is(verr, credentials.ErrEmptyPool):
		logger.InfoContext(ctx, "no VCS tokens configured, repository commands disabled")
	case verr != nil:
		return nil, verr
	default:
		a.vcs = client
	}

	a.checks = checks.NewRunner(cfg.Checks, checks.WithLogger(logger.With("component", "checks")))

	deps := commands.Deps{
		State:         a.state,
		Conversations: a.convs,
		Owner:         cfg.VCS.Owner,
		Repo:          cfg.VCS.Repo,
		Checks:        a.checks,
		Artifacts:     a.artifacts,
		Logger:        logger.With("component", "commands"),
	}
	if a.vcs != nil {
		deps.VCS = a.vcs
		if cfg.VCS.Owner != "" && cfg.VCS.Repo != "" {
			deps.Deploy = &commands.VCSDeployTrigger{Client: a.vcs, Owner: cfg.VCS.Owner, Repo: cfg.VCS.Repo}
		}
	}
	reg := dispatcher.NewRegistry()
	if err = commands.RegisterAll(reg, deps); err != nil {
		return nil, err
	}
	a.dispatcher = dispatcher.New(reg, a.authz,
		dispatcher.WithLogger(logger.With("component", "dispatcher")),
		dispatcher.WithObservability(a.obs),
	)

	a.sweeper = &sweeper.Sweeper{
		State:           a.state,
		Conversations:   a.convs,
		ConversationTTL: cfg.Persistence.ConversationTTL,
		Logger:          logger.With("component", "sweeper"),
		Obs:             a.obs,
	}

	logger.InfoContext(ctx, "chatops ready",
		"environment", cfg.Environment,
		"state_backend", a.state.Backend(),
		"conversation_backend", a.convs.Backend(),
		"commands", len(reg.List()),
		"rbac_enabled", a.authz.Enabled(),
	)
	return a, nil
}

func (a *app) close(ctx context.Context) {
	if a.state != nil {
		if err := a.state.Close(); err != nil {
			a.logger.WarnContext(ctx, "close state store", "error", err)
		}
	}
	if a.convs != nil {
		if err := a.convs.Close(); err != nil {
			a.logger.WarnContext(ctx, "close conversation store", "error", err)
		}
	}
	if c, ok := a.artifacts.(io.Closer); ok {
		_ = c.Close()
	}
	if a.obs != nil {
		if err := a.obs.Shutdown(ctx); err != nil {
			a.logger.WarnContext(ctx, "observability shutdown", "error", err)
		}
	}
}

// bootstrap loads config and wires the app for a subcommand. Logs go to w.
func bootstrap(ctx context.Context, w io.Writer) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return newApp(ctx, cfg, newLogger(cfg.LogLevel, cfg.LogFormat, w))
}
