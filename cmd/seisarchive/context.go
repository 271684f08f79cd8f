package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"seisarchive/internal/config"
	"seisarchive/internal/journal"
	"seisarchive/internal/logging"
	"seisarchive/internal/policy"
	"seisarchive/internal/workflow"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) configPath() string {
	if c.configFlag == nil {
		return ""
	}
	return strings.TrimSpace(*c.configFlag)
}

// pipelineEnv bundles what processing commands need; close releases it.
type pipelineEnv struct {
	cfg      *config.Config
	logger   *slog.Logger
	services workflow.Services
	journal  *journal.Store
	manager  *workflow.Manager
}

func (c *commandContext) openRuntime(ctx context.Context) (*pipelineEnv, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	policies, err := policy.Load(cfg.Paths.PolicyDir)
	if err != nil {
		return nil, err
	}
	svc, err := workflow.OpenServices(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	table, err := workflow.BuildTable(cfg, svc, logger)
	if err != nil {
		_ = svc.Close()
		return nil, err
	}
	store, err := journal.Open(ctx, cfg)
	if err != nil {
		_ = svc.Close()
		return nil, err
	}
	return &pipelineEnv{
		cfg:      cfg,
		logger:   logger,
		services: svc,
		journal:  store,
		manager:  workflow.NewManager(cfg, table, policies, logger, workflow.WithJournal(store)),
	}, nil
}

func (r *pipelineEnv) close() error {
	return errors.Join(r.journal.Close(), r.services.Close())
}

func (c *commandContext) withJournal(ctx context.Context, fn func(*journal.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	store, err := journal.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
