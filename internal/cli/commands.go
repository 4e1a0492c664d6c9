package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/spf13/cobra"
)

var cliInitOnce sync.Once

// Execute runs the root command with the given arguments
func Execute(args []string) error {
	return ExecuteContext(context.Background(), args)
}

// ExecuteContext is Execute with a context that commands observe for cancellation.
func ExecuteContext(ctx context.Context, args []string) error {
	InitCLI()
	RootCmd.SetArgs(args)

	if err := RootCmd.ExecuteContext(ctx); err != nil {
		return fmt.Errorf("command execution failed: %w", err)
	}
	return nil
}

// ExecuteWithErrorCode runs the root command and returns exit code
func ExecuteWithErrorCode(ctx context.Context, args []string) int {
	if err := ExecuteContext(ctx, args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// GetRootCommand returns the root command
func GetRootCommand() *cobra.Command {
	return RootCmd
}

// InitCLI registers global flags once. Subcommands register themselves in init.
func InitCLI() {
	cliInitOnce.Do(InitRoot)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
