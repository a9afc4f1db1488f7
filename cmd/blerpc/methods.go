package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/srg/blerpc/pkg/config"
	"github.com/srg/blerpc/pkg/rpc"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// methodsCmd represents the methods command
var methodsCmd = &cobra.Command{
	Use:   "methods",
	Short: "List the methods declared in the service definitions",
	Long: `Lists every Service.Method of the --schema file with its kind, GATT target and payload types.
No device connection is made.

Examples:
  blerpc --schema battery.yaml methods
  blerpc --schema battery.yaml methods -o json`,
	Args: cobra.NoArgs,
	RunE: runMethods,
}

func runMethods(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	sch, err := loadSchema(cfg)
	if err != nil {
		return err
	}

	cmd.SilenceUsage = true
	out := cmd.OutOrStdout()

	if cfg.OutputFormat != config.OutputText {
		printer := newResultPrinter(out, cfg.OutputFormat)
		for _, def := range sch.Methods() {
			record := orderedmap.New[string, any]()
			record.Set("method", def.FullName())
			record.Set("kind", def.Kind.String())
			record.Set("service", def.Service)
			record.Set("characteristic", def.Characteristic)
			if def.Kind == rpc.MethodSubscribe {
				record.Set("descriptor", def.Descriptor)
			}
			record.Set("request", string(def.Request))
			record.Set("response", string(def.Response))
			if def.Description != "" {
				record.Set("description", def.Description)
			}
			if err := printer.Print(record); err != nil {
				return err
			}
		}
		return printer.Close()
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "METHOD\tKIND\tCHARACTERISTIC\tREQUEST\tRESPONSE\tDESCRIPTION")
	for _, def := range sch.Methods() {
		request := string(def.Request)
		if def.Kind != rpc.MethodWrite {
			request = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s/%s\t%s\t%s\t%s\n",
			methodColor.Sprint(def.FullName()), def.Kind, def.Service, def.Characteristic,
			request, def.Response, dimColor.Sprint(def.Description))
	}
	return tw.Flush()
}
