package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vinayprograms/chatkit/quotes"
)

func newQuotesCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quotes",
		Short: "Quote book maintenance",
	}
	cmd.AddCommand(newQuotesCheckCmd(opts))
	return cmd
}

func newQuotesCheckCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Load the quote book and count quotes that can be served",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			store, err := a.openQuotes()
			if err != nil {
				return err
			}
			all, err := store.GetAll(cmd.Context())
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: %d quotes, %d servable\n",
				a.cfg.Quotes.File, len(all), len(quotes.Accessible(all)))
			return nil
		},
	}
}
