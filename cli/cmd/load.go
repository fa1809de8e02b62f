package cmd

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/tgdrop/cli/config"
)

// Environment variables consulted after the env file is loaded. They
// override the config file and are overridden by flags.
const (
	envToken       = "TELEGRAM_TOKEN"
	envStorageRoot = "TGDROP_STORAGE_ROOT"
	envLogLevel    = "TGDROP_LOG_LEVEL"
)

// loadConfig resolves the effective configuration:
// defaults < config file < environment < flags.
func loadConfig(c *cli.Context) (*config.Config, error) {
	if err := config.LoadEnvFile(c.String(EnvFileFlag.Name)); err != nil {
		return nil, err
	}

	var cfg *config.Config
	if path := c.String(ConfigFlag.Name); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		parsed, err := config.Parse(nil)
		if err != nil {
			return nil, err
		}
		cfg = parsed
	}

	applyEnv(cfg)
	applyFlags(c, cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *config.Config) {
	if v := os.Getenv(envToken); v != "" {
		cfg.Telegram.Token = v
	}
	if v := os.Getenv(envStorageRoot); v != "" {
		cfg.Storage.Root = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.Log.Level = v
	}
}

func applyFlags(c *cli.Context, cfg *config.Config) {
	if c.IsSet(StorageRootFlag.Name) {
		cfg.Storage.Root = c.String(StorageRootFlag.Name)
	}
	if c.IsSet(TokenFlag.Name) {
		cfg.Telegram.Token = c.String(TokenFlag.Name)
	}
	if c.IsSet(TransportFlag.Name) {
		cfg.Transport = c.String(TransportFlag.Name)
	}
	if c.IsSet(LogLevelFlag.Name) {
		cfg.Log.Level = c.String(LogLevelFlag.Name)
	}
	if c.IsSet(StatusListenFlag.Name) {
		cfg.Status.Listen = c.String(StatusListenFlag.Name)
	}
	if c.IsSet(BacklogFlag.Name) {
		cfg.Telegram.ProcessBacklog = c.Bool(BacklogFlag.Name)
	}
}

func configError(err error) error {
	return cli.Exit(fmt.Sprintf("invalid config: %v", err), exitConfigError)
}
