package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vinayprograms/chatkit/rotation"
)

func newRotationCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rotation",
		Short: "Inspect and reset rotation queues in shared state",
	}
	cmd.AddCommand(
		newRotationShowCmd(opts),
		newRotationResetCmd(opts),
	)
	return cmd
}

func newRotationShowCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show [pool]",
		Short: "Print the available and used IDs of a pool",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			store, closeState, err := a.openState(cmd.Context())
			if err != nil {
				return err
			}
			defer closeState()

			q, err := rotation.New(store, poolArg(a, args), rotation.WithLogger(a.logger))
			if err != nil {
				return err
			}
			st, err := q.Snapshot(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "pool:      %s\n", q.Pool())
			_, _ = fmt.Fprintf(out, "key:       %s\n", q.Key())
			_, _ = fmt.Fprintf(out, "available: %d %s\n", len(st.Available), strings.Join(st.Available, " "))
			_, _ = fmt.Fprintf(out, "used:      %d %s\n", len(st.Used), strings.Join(st.Used, " "))
			return nil
		},
	}
}

func newRotationResetCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset [pool]",
		Short: "Clear a pool so the next draw starts a fresh cycle",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			store, closeState, err := a.openState(cmd.Context())
			if err != nil {
				return err
			}
			defer closeState()

			q, err := rotation.New(store, poolArg(a, args), rotation.WithLogger(a.logger))
			if err != nil {
				return err
			}
			if err := q.Reset(cmd.Context()); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "reset %s\n", q.Pool())
			return nil
		},
	}
}

// poolArg returns the pool named on the command line, or the image pool.
func poolArg(a *app, args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return a.cfg.Images.Pool
}
