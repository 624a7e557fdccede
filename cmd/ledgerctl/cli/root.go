package cli

import (
	"context"
	"fmt"
	"slices"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Format string
	open   Opener
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the ledgerctl command tree.
func NewRootCommand(open Opener) *cobra.Command {
	opts := &RootOptions{open: open}

	cmd := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Operate the tutoring ledger",
		Long:          "Administrative commands for the progress ledger, credits and redemption codes.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(newMigrateCommand(opts))
	cmd.AddCommand(newReconcileCommand(opts))
	cmd.AddCommand(newCodesCommand(opts))
	cmd.AddCommand(newCreditsCommand(opts))
	cmd.AddCommand(newContentCommand(opts))
	cmd.AddCommand(newJobsCommand(opts))

	return cmd
}

// withBackend opens the backend for the duration of fn.
func (o *RootOptions) withBackend(ctx context.Context, fn func(Backend) error) (err error) {
	if o.open == nil {
		return fmt.Errorf("backend not configured")
	}
	backend, err := o.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := backend.Close(); err == nil {
			err = closeErr
		}
	}()
	return fn(backend)
}
