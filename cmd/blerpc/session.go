package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/blerpc/internal/device"
	goble "github.com/srg/blerpc/internal/device/go-ble"
	"github.com/srg/blerpc/pkg/codec"
	"github.com/srg/blerpc/pkg/config"
	"github.com/srg/blerpc/pkg/rpc"
	"github.com/srg/blerpc/pkg/schema"
)

// adapterFactory creates the GATT adapter a session drives (can be overridden in tests)
var adapterFactory = func(logger *logrus.Logger, opts *goble.Options) device.Adapter {
	return goble.NewBLEConnection(logger, opts)
}

// loadConfig reads --config and applies the global flags the user set on top of it.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(globalConfigPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("schema") {
		cfg.Schema = globalSchemaPath
	}
	if flags.Changed("address") {
		cfg.Address = globalAddress
	}
	if flags.Changed("codec") {
		cfg.Codec = globalCodec
	}
	if flags.Changed("output") {
		cfg.OutputFormat = globalOutput
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadSchema loads the service definitions named by the configuration.
func loadSchema(cfg *config.Config) (*schema.Schema, error) {
	if cfg.Schema == "" {
		return nil, ErrNoSchema
	}
	return schema.Load(cfg.Schema)
}

// session is one device channel plus everything needed to call its methods.
type session struct {
	cfg     *config.Config
	logger  *logrus.Logger
	schema  *schema.Schema
	channel *rpc.Channel
}

// openSession validates the command configuration and creates a disconnected channel.
// The channel connects on the first call.
func openSession(cmd *cobra.Command) (*session, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return nil, err
	}
	sch, err := loadSchema(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Address == "" {
		return nil, ErrNoAddress
	}
	c, err := codec.ByName(cfg.Codec)
	if err != nil {
		return nil, err
	}

	adapter := adapterFactory(logger, &cfg.BLE)
	logger.WithFields(logrus.Fields{
		"address": cfg.Address,
		"codec":   cfg.Codec,
	}).Debug("Opening RPC channel")

	return &session{
		cfg:     cfg,
		logger:  logger,
		schema:  sch,
		channel: rpc.NewChannel(cfg.Address, adapter, c, rpc.WithLogger(logger)),
	}, nil
}

// Close releases the channel and its connection.
func (s *session) Close() {
	if err := s.channel.Close(); err != nil {
		s.logger.WithField("error", err).Warn("Failed to close RPC channel")
	}
}
