package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"breachvip/internal/breachvip"
	"breachvip/internal/config"
	"breachvip/internal/journal"
	"breachvip/internal/logging"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configPath string
	configSeen bool
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) configFlagValue() string {
	if c.configFlag == nil {
		return ""
	}
	return strings.TrimSpace(*c.configFlag)
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, path, exists, err := config.Load(c.configFlagValue())
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = path
		c.configSeen = exists
	})
	return c.config, c.configErr
}

// logger builds the run logger, writing console output to the command's
// stderr and mirroring it into the log directory.
func (c *commandContext) logger(cmd *cobra.Command) (*slog.Logger, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, err := logging.NewForConsole(cfg, cmd.ErrOrStderr())
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return logger, nil
}

func (c *commandContext) newClient(logger *slog.Logger) (*breachvip.Client, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return breachvip.New(clientConfig(cfg, logger))
}

func (c *commandContext) openJournal() (*journal.Store, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	store, err := journal.Open(cfg.JournalPath())
	if err != nil {
		return nil, fmt.Errorf("open run journal: %w", err)
	}
	return store, nil
}

func (c *commandContext) withJournal(fn func(*journal.Store) error) error {
	store, err := c.openJournal()
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

func clientConfig(cfg *config.Config, logger *slog.Logger) breachvip.Config {
	policy := breachvip.RetryPolicy{
		MaxAttempts:         cfg.Retry.MaxAttempts,
		Backoff:             breachvip.LinearBackoff(cfg.RetryDelay()),
		Retryable:           breachvip.IsTransient,
		MaxRateLimitRetries: cfg.Retry.MaxRateLimitRetries,
		RateLimitCooldown:   cfg.RateLimitCooldown(),
		MaxRateLimitWait:    cfg.MaxRateLimitWait(),
	}
	return breachvip.Config{
		BaseURL:           cfg.API.BaseURL,
		UserAgent:         cfg.API.UserAgent,
		Timeout:           cfg.RequestTimeout(),
		RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		LimiterScope:      cfg.RateLimit.Scope,
		Retry:             &policy,
		Logger:            logger,
	}
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
