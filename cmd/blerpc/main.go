package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "blerpc",
	Short: "RPC calls over Bluetooth Low Energy GATT",
	Long: `Bluetooth Low Energy (BLE) RPC client that provides:

- Typed method calls mapped onto GATT characteristic reads and writes
- Streaming subscriptions backed by characteristic notifications
- Service definitions loaded from YAML files
- Raw, fixed-size binary and CBOR payload codecs

Every method is addressed as Service.Method, as declared in the --schema file.`,
	Version: formatVersion(version),
}

// Global flags
var (
	globalConfigPath string
	globalSchemaPath string
	globalAddress    string
	globalCodec      string
	globalOutput     string
	globalLogLevel   string
)

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		// Print user-friendly error message
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}

func init() {
	// Silence Cobra's "Error:" prefix - main() prints clean errors
	rootCmd.SilenceErrors = true
	rootCmd.SetVersionTemplate(fmt.Sprintf("blerpc %s (commit %s, built %s)\n", formatVersion(version), commit, date))

	// Add subcommands
	rootCmd.AddCommand(callCmd)
	rootCmd.AddCommand(subscribeCmd)
	rootCmd.AddCommand(methodsCmd)

	// Global flags
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&globalConfigPath, "config", "", "Path to a YAML configuration file")
	flags.StringVar(&globalSchemaPath, "schema", "", "Path to the YAML service definitions")
	flags.StringVarP(&globalAddress, "address", "a", "", "Device address")
	flags.StringVar(&globalCodec, "codec", "", "Payload codec: raw, binary or cbor")
	flags.StringVarP(&globalOutput, "output", "o", "", "Output format: text, json or yaml")
	flags.StringVar(&globalLogLevel, "log-level", "", "Log level (debug, info, warn, error)")

	// Add -v as a short flag for --version
	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
}
