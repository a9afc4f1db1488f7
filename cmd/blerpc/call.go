package main

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/blerpc/pkg/config"
	"github.com/srg/blerpc/pkg/rpc"
)

// callCmd represents the call command
var callCmd = &cobra.Command{
	Use:   "call <Service.Method> [payload]",
	Short: "Call a read or write method",
	Long: `Calls a read or write method declared in the service definitions and prints the response.

The payload is parsed according to the method's request type:
  bytes    hex digits, optionally 0x-prefixed and separated by spaces or colons
  numbers  decimal, or 0x / 0o / 0b prefixed
  any      YAML or JSON (requires --codec cbor)

Examples:
  # Read the battery level
  blerpc --schema battery.yaml -a AA:BB:CC:DD:EE:FF call Battery.Level

  # Write a new mode and print the device response as JSON
  blerpc --schema device.yaml -a AA:BB:CC:DD:EE:FF --codec cbor -o json call Device.SetMode '{mode: 2}'`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runCall,
}

var callTimeout string

func init() {
	callCmd.Flags().StringVar(&callTimeout, "timeout", "", "Call timeout (e.g. 5s); defaults to call_timeout from the config")
}

func runCall(cmd *cobra.Command, args []string) error {
	sess, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer sess.Close()

	def, err := sess.schema.Lookup(args[0])
	if err != nil {
		return err
	}
	if def.Kind == rpc.MethodSubscribe {
		return fmt.Errorf("%s is a subscription; use 'blerpc subscribe %s'", def.FullName(), def.FullName())
	}

	var request rpc.Message
	switch {
	case def.Kind == rpc.MethodWrite && len(args) < 2:
		return fmt.Errorf("%s writes a %s payload; pass it as the second argument", def.FullName(), def.Request)
	case def.Kind == rpc.MethodWrite:
		request, err = def.Request.Parse(args[1])
		if err != nil {
			return fmt.Errorf("%s payload: %w", def.FullName(), err)
		}
	case len(args) == 2:
		return fmt.Errorf("%s is a read method and takes no payload", def.FullName())
	}

	timeout := sess.cfg.CallTimeout
	if callTimeout != "" {
		if timeout, err = parsePositiveDuration(callTimeout); err != nil {
			return fmt.Errorf("invalid timeout: %w", err)
		}
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	sess.logger.WithFields(logrus.Fields{
		"method":  def.FullName(),
		"kind":    def.Kind,
		"timeout": timeout,
	}).Debug("Calling method")

	progress := NewProgressPrinter(cmd.ErrOrStderr(), "Calling "+def.FullName(), func() string {
		if sess.channel.State() != rpc.Connected {
			return "Connecting"
		}
		return "Waiting for response"
	})
	if sess.cfg.OutputFormat == config.OutputText && progressEnabled(cmd.ErrOrStderr()) {
		progress.Start()
	}
	defer progress.Stop()

	resp, err := rpc.Invoke(ctx, sess.channel, def.Method, request, def.Response.Prototype())
	// Stop progress indicator before printing output
	progress.Stop()
	if err != nil {
		return fmt.Errorf("%s: %w", def.FullName(), err)
	}

	printer := newResultPrinter(cmd.OutOrStdout(), sess.cfg.OutputFormat)
	if err := printer.Result(def.FullName(), resp); err != nil {
		return err
	}
	return printer.Close()
}
