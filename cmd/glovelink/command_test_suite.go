//go:build test

package main

import (
	"bytes"
	"os"
	"path/filepath"

	"github.com/feltsight/glovelink/internal/testutils"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Test peripheral addresses
const (
	TestGloveAddress = "AA:BB:CC:DD:EE:FF"
	TestOtherAddress = "66:55:44:33:22:11"
)

// CommandTestSuite runs the CLI against a MockCentral.
// All cmd/glovelink test suites should embed this instead of MockCentralSuite.
type CommandTestSuite struct {
	testutils.MockCentralSuite
}

func (s *CommandTestSuite) SetupTest() {
	s.WithCentral().
		WithAdvertisements(
			testutils.NewGloveAdvertisement(TestGloveAddress, "FeltSight BLE", -42),
			testutils.CreateMockAdvertisement("Heart Rate Strap", TestOtherAddress, -60).WithServices("180D").Build(),
		).
		WithPeripheral(testutils.NewGlovePeripheral(TestGloveAddress))
	s.MockCentralSuite.SetupTest()
	resetFlags(rootCmd)
}

// ExecuteCommand runs the root command with args and returns combined output.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, error) {
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

// WriteConfig writes a YAML config file for the test and returns its path.
func (s *CommandTestSuite) WriteConfig(yaml string) string {
	path := filepath.Join(s.T().TempDir(), "glovelink.yaml")
	s.Require().NoError(os.WriteFile(path, []byte(yaml), 0o600))
	return path
}

// resetFlags restores every flag of cmd and its children to its default,
// since flag values live in package variables shared by all tests.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}
