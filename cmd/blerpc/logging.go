package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/blerpc/pkg/config"
)

// configureLogger creates a logger writing to the command's stderr.
// --log-level takes precedence over the config file; without either the logger stays silent.
func configureLogger(cmd *cobra.Command, cfg *config.Config) (*logrus.Logger, error) {
	logger := cfg.NewLogger()
	logger.SetOutput(cmd.ErrOrStderr())

	switch {
	case cmd.Flags().Changed("log-level"):
		level, err := logrus.ParseLevel(globalLogLevel)
		if err != nil {
			return nil, err
		}
		logger.SetLevel(level)
	case globalConfigPath == "":
		// Default to panic level (essentially silent for normal operations)
		logger.SetLevel(logrus.PanicLevel)
	}

	return logger, nil
}
