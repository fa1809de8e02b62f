package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

// CheckCommand returns the check command. It prints the effective
// configuration with secrets redacted and exits non-zero when invalid.
// It never contacts the messaging service.
func CheckCommand() *cli.Command {
	return &cli.Command{
		Name:   "check",
		Usage:  "Validate configuration and print the effective settings",
		Flags:  ConfigFlags(),
		Action: checkAction,
	}
}

func checkAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return configError(err)
	}

	out, err := yaml.Marshal(cfg.Redacted())
	if err != nil {
		return fmt.Errorf("render config: %w", err)
	}
	_, err = c.App.Writer.Write(out)
	return err
}
