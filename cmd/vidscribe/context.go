package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/loqalabs/vidscribe/internal/config"
	"github.com/loqalabs/vidscribe/internal/runtime"
)

type commandContext struct {
	configFlag   *string
	logLevelFlag *string

	configOnce sync.Once
	config     config.Config
	configErr  error
	logger     *slog.Logger
}

func newCommandContext(configFlag, logLevelFlag *string) *commandContext {
	return &commandContext{
		configFlag:   configFlag,
		logLevelFlag: logLevelFlag,
	}
}

// ensureConfig loads the configuration once. An explicit --config must
// exist; the default file is optional.
func (c *commandContext) ensureConfig() (config.Config, error) {
	c.configOnce.Do(func() {
		path := ""
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		if path == "" {
			if _, err := os.Stat(config.DefaultConfigFile); err == nil {
				path = config.DefaultConfigFile
			} else if !errors.Is(err, fs.ErrNotExist) {
				c.configErr = fmt.Errorf("stat %s: %w", config.DefaultConfigFile, err)
				return
			}
		}
		cfg, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if c.logLevelFlag != nil && strings.TrimSpace(*c.logLevelFlag) != "" {
			cfg.Telemetry.LogLevel = strings.ToLower(strings.TrimSpace(*c.logLevelFlag))
		}
		c.config = cfg
		c.logger = newLogger(os.Stderr, cfg.Telemetry)
	})
	return c.config, c.configErr
}

// withRuntime starts the runtime for the duration of fn.
func (c *commandContext) withRuntime(ctx context.Context, fn func(*runtime.Runtime) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	rt := runtime.New(cfg, c.logger)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		rt.Shutdown(shutdownCtx)
	}()
	if err := rt.Start(ctx); err != nil {
		return err
	}
	return fn(rt)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
