package commands

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/dyluth/rally/internal/config"
	"github.com/dyluth/rally/internal/coordinator"
	"github.com/dyluth/rally/internal/printer"
	"github.com/dyluth/rally/internal/resolver"
	"github.com/dyluth/rally/internal/sqlitestore"
	"github.com/dyluth/rally/internal/validation"
	"github.com/dyluth/rally/pkg/ledger"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// session is one agent's connection to the network for the lifetime of a
// command.
type session struct {
	cfg       *config.RallyConfig
	backend   ledger.Backend
	transport ledger.Transport
	svc       *coordinator.Service
}

// loadConfig reads rally.yml. A missing file is fine unless --config was
// given explicitly; defaults and environment overrides apply either way.
func loadConfig(cmd *cobra.Command) (*config.RallyConfig, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) || cmd.Flags().Changed("config") {
			return nil, printer.Error(
				"failed to load configuration",
				err.Error(),
				[]string{"Run 'rally init' to create rally.yml"},
			)
		}
		cfg = config.Default()
		if err := cfg.ApplyEnv(); err != nil {
			return nil, err
		}
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
	}

	if keyFile != "" {
		cfg.Identity.KeyFile = keyFile
	}
	return cfg, nil
}

// openBackend connects to the configured substrate. Both backends also
// carry remote calls.
func openBackend(cfg *config.RallyConfig) (ledger.Backend, ledger.Transport, error) {
	switch cfg.Backend {
	case config.BackendSQLite:
		store, err := sqlitestore.New(cfg.SQLite.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open %s: %w", cfg.SQLite.Path, err)
		}
		return store, store, nil
	default:
		client, err := ledger.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, cfg.Network)
		if err != nil {
			return nil, nil, err
		}
		return client, client, nil
	}
}

func openSession(cmd *cobra.Command) (*session, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	backend, transport, err := openBackend(cfg)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Relay.CallTimeout)
	defer cancel()
	if err := backend.Ping(ctx); err != nil {
		backend.Close()
		return nil, printer.ErrorWithContext(
			"backend unreachable",
			err.Error(),
			map[string]string{"backend": cfg.Backend, "network": cfg.Network},
			[]string{"Check the redis/sqlite settings in rally.yml"},
		)
	}

	id, err := ledger.LoadOrCreateIdentity(cfg.Identity.KeyFile)
	if err != nil {
		backend.Close()
		return nil, err
	}

	validator := validation.NewEngine().WithWarnFunc(func(format string, args ...any) {
		log.Printf("[Validation] [WARN] "+format, args...)
	})
	store := ledger.New(backend, id, ledger.SystemClock{}, validator)

	return &session{
		cfg:       cfg,
		backend:   backend,
		transport: transport,
		svc: coordinator.New(store, transport, coordinator.Options{
			Network:     cfg.Network,
			CallTimeout: cfg.Relay.CallTimeout,
		}),
	}, nil
}

// Close waits for in-flight signal deliveries, then disconnects.
func (s *session) Close() error {
	s.svc.Relay().Wait()
	return s.backend.Close()
}

// withSession runs fn against a fresh session and reports a failure of
// operation through printer.Failure.
func withSession(cmd *cobra.Command, operation string, fn func(ctx context.Context, s *session) error) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := fn(cmd.Context(), s); err != nil {
		return printer.Failure(operation, err)
	}
	return nil
}

// resolveGame accepts a full game hash or a unique prefix of a listed game.
func resolveGame(ctx context.Context, svc *coordinator.Service, arg string) (ledger.Hash, error) {
	if h := ledger.Hash(strings.TrimSpace(arg)); h.IsRecord() && len(h) == len(ledger.KindRecord)+1+ledger.HashHexLength {
		return h, nil
	}
	games, err := svc.Directory().AllGames(ctx)
	if err != nil {
		return "", err
	}
	return resolver.Resolve(arg, ledger.KindRecord, games)
}

// resolveAgent accepts an agent hash or a registered player name.
func resolveAgent(ctx context.Context, svc *coordinator.Service, arg string) (ledger.Hash, error) {
	if h := ledger.Hash(strings.TrimSpace(arg)); h.IsAgent() {
		return h, nil
	}
	player, err := svc.GetPlayerByName(ctx, arg)
	if err != nil {
		return "", err
	}
	return player.Latest.Value.PlayerKey, nil
}

// emit prints v as JSON under --json, otherwise calls human.
func emit(v any, human func()) error {
	if jsonOutput {
		return printer.JSON(v)
	}
	human()
	return nil
}
