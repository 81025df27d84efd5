package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build-time variables set via -ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

// exitError carries a process exit code through cobra's error return.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func invalidConfig(err error) error {
	return &exitError{code: exitInvalidConfig, err: err}
}

var rootCmd = &cobra.Command{
	Use:   "taskexpiry",
	Short: "taskexpiry - task lifecycle and deadline expiry engine",
	Long: `taskexpiry stores owner-scoped tasks, watches their deadlines and marks
Pending tasks Expired when the deadline passes, notifying the owner.

Configuration comes from defaults, the optional CONFIG_FILE (YAML), then
environment variables. Run "taskexpiry config" to see the effective values.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(rehydrateCmd)
}

func main() {
	os.Exit(execute(os.Args[1:]))
}

func execute(args []string) int {
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	if err == nil {
		return exitSuccess
	}

	fmt.Fprintln(rootCmd.ErrOrStderr(), err)
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return exitRuntimeError
}
