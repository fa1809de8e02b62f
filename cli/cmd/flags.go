// Package cmd provides CLI commands for the tgdrop binary.
package cmd

import "github.com/urfave/cli/v2"

// Shared flags for commands that read configuration.
var (
	// ConfigFlag points at the YAML config file.
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to tgdrop.yaml",
	}

	// EnvFileFlag points at a dotenv file loaded before the config.
	EnvFileFlag = &cli.StringFlag{
		Name:  "env-file",
		Usage: "Path to a .env file (default: ./.env when present)",
	}

	// StorageRootFlag overrides storage.root.
	StorageRootFlag = &cli.StringFlag{
		Name:  "storage-root",
		Usage: "Directory where files are saved",
	}

	// TokenFlag overrides telegram.token.
	TokenFlag = &cli.StringFlag{
		Name:  "token",
		Usage: "Telegram bot token",
	}

	// TransportFlag overrides transport.
	TransportFlag = &cli.StringFlag{
		Name:  "transport",
		Usage: "Message transport: telegram or amqp",
	}

	// LogLevelFlag overrides log.level.
	LogLevelFlag = &cli.StringFlag{
		Name:  "log-level",
		Usage: "Log level: debug, info, warn, error",
	}

	// StatusListenFlag overrides status.listen.
	StatusListenFlag = &cli.StringFlag{
		Name:  "status-listen",
		Usage: "Address for the status HTTP server (empty disables)",
	}

	// BacklogFlag overrides telegram.process_backlog.
	BacklogFlag = &cli.BoolFlag{
		Name:  "backlog",
		Usage: "Process queued updates once before live polling",
	}
)

// ConfigFlags returns the flags shared by run and check.
func ConfigFlags() []cli.Flag {
	return []cli.Flag{
		ConfigFlag,
		EnvFileFlag,
		StorageRootFlag,
		TokenFlag,
		TransportFlag,
		LogLevelFlag,
		StatusListenFlag,
		BacklogFlag,
	}
}
