package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/blerpc/pkg/rpc"
)

// subscribeCmd represents the subscribe command
var subscribeCmd = &cobra.Command{
	Use:   "subscribe <Service.Method>",
	Short: "Stream notifications of a subscribe method",
	Long: `Subscribes to a method declared with kind: subscribe and prints every notification.

Streaming stops on Ctrl+C, after --count values, or after --duration.

Examples:
  # Follow battery level changes
  blerpc --schema battery.yaml -a AA:BB:CC:DD:EE:FF subscribe Battery.LevelChanged

  # Print ten heart rate samples as JSON lines
  blerpc --schema hrs.yaml -a AA:BB:CC:DD:EE:FF -o json subscribe HeartRate.Measurement --count 10`,
	Args: cobra.ExactArgs(1),
	RunE: runSubscribe,
}

var (
	subscribeCount    int
	subscribeDuration string
)

func init() {
	subscribeCmd.Flags().IntVar(&subscribeCount, "count", 0, "Stop after this many notifications (0 = unlimited)")
	subscribeCmd.Flags().StringVar(&subscribeDuration, "duration", "", "Stop after this long (e.g. 30s)")
}

func runSubscribe(cmd *cobra.Command, args []string) error {
	if subscribeCount < 0 {
		return fmt.Errorf("--count must not be negative")
	}
	var duration time.Duration
	if subscribeDuration != "" {
		var err error
		if duration, err = parsePositiveDuration(subscribeDuration); err != nil {
			return fmt.Errorf("invalid duration: %w", err)
		}
	}

	sess, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer sess.Close()

	def, err := sess.schema.Lookup(args[0])
	if err != nil {
		return err
	}
	if def.Kind != rpc.MethodSubscribe {
		return fmt.Errorf("%s is a %s method; use 'blerpc call %s'", def.FullName(), def.Kind, def.FullName())
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}
	ctx, finish := context.WithCancel(ctx)
	defer finish()

	printer := newResultPrinter(cmd.OutOrStdout(), sess.cfg.OutputFormat)
	var (
		mu       sync.Mutex
		received int
		printErr error
		finished bool
	)
	onValue := func(resp rpc.Message) {
		mu.Lock()
		defer mu.Unlock()
		if finished || printErr != nil || (subscribeCount > 0 && received >= subscribeCount) {
			return
		}
		received++
		if printErr = printer.Result(def.FullName(), resp); printErr != nil {
			finish()
			return
		}
		if subscribeCount > 0 && received >= subscribeCount {
			finish()
		}
	}

	sess.logger.WithFields(logrus.Fields{
		"method": def.FullName(),
		"count":  subscribeCount,
	}).Debug("Subscribing")

	err = rpc.Subscribe(ctx, sess.channel, def.Method, def.Response.Prototype(), onValue)

	mu.Lock()
	defer mu.Unlock()
	finished = true
	switch {
	case printErr != nil:
		return printErr
	case err == nil, errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// Count reached, duration elapsed or interrupted
		sess.logger.WithField("received", received).Debug("Subscription finished")
		return printer.Close()
	default:
		return fmt.Errorf("%s: %w", def.FullName(), err)
	}
}

func parsePositiveDuration(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s is not positive", s)
	}
	return d, nil
}
