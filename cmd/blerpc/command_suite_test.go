package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/srg/blerpc/internal/device"
	goble "github.com/srg/blerpc/internal/device/go-ble"
	"github.com/srg/blerpc/internal/testutils"
)

// TestDeviceAddress is the address every command test talks to.
const TestDeviceAddress = "00:00:00:00:00:01"

const testSchema = `
services:
  - name: Battery
    uuid: "180F"
    methods:
      - name: Level
        characteristic: "2A19"
        response: uint8
        description: Remaining charge in percent
      - name: LevelChanged
        characteristic: "2A19"
        kind: subscribe
        response: uint8
  - name: Device
    uuid: "A0E4"
    methods:
      - name: Status
        characteristic: "A0E5"
        response: any
      - name: SetLabel
        characteristic: "A0E6"
        kind: write
        request: string
        response: string
`

// CommandTestSuite extends MockBLEPeripheralSuite with command testing utilities.
// All cmd/blerpc test suites should embed this instead of MockBLEPeripheralSuite.
type CommandTestSuite struct {
	testutils.MockBLEPeripheralSuite

	SchemaPath string
	Stderr     string

	originalFactory func(*logrus.Logger, *goble.Options) device.Adapter
}

func (s *CommandTestSuite) SetupTest() {
	s.MockBLEPeripheralSuite.SetupTest()
	color.NoColor = true

	s.SchemaPath = filepath.Join(s.T().TempDir(), "services.yaml")
	s.Require().NoError(os.WriteFile(s.SchemaPath, []byte(testSchema), 0o600))
	s.originalFactory = adapterFactory
}

func (s *CommandTestSuite) TearDownTest() {
	adapterFactory = s.originalFactory
	s.MockBLEPeripheralSuite.TearDownTest()
}

// UseFakeAdapter routes sessions through the suite's auto-completing FakeAdapter
// instead of the go-ble connection.
func (s *CommandTestSuite) UseFakeAdapter() *testutils.FakeAdapter {
	s.Adapter.AutoComplete()
	adapterFactory = func(*logrus.Logger, *goble.Options) device.Adapter {
		return s.Adapter
	}
	return s.Adapter
}

// ExecuteCommand runs the root command with args and returns its stdout.
// Stderr is kept in s.Stderr. Flags are reset to their defaults first.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, error) {
	return s.ExecuteCommandContext(context.Background(), args...)
}

func (s *CommandTestSuite) ExecuteCommandContext(ctx context.Context, args ...string) (string, error) {
	resetFlags(rootCmd)
	// Cobra keeps a subcommand's context from the previous run; clear it so ctx is used.
	for _, sub := range rootCmd.Commands() {
		sub.SetContext(nil) //nolint:staticcheck // nil makes cobra inherit the root context
	}

	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(args)

	ctx, cancel := context.WithTimeout(ctx, s.TestTimeout)
	defer cancel()
	err := rootCmd.ExecuteContext(ctx)

	s.Stderr = stderr.String()
	return stdout.String(), err
}

// Call runs "call" against the test device with the test schema.
func (s *CommandTestSuite) Call(args ...string) (string, error) {
	return s.ExecuteCommand(append([]string{"--schema", s.SchemaPath, "-a", TestDeviceAddress, "call"}, args...)...)
}

// resetFlags restores every flag of cmd and its subcommands to its default value.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}
