package cmd

import (
	"fmt"

	"github.com/gregLibert/secure-element/pkg/cardlink"
	"github.com/spf13/cobra"
)

func cmdReaders() *cobra.Command {
	return &cobra.Command{
		GroupID: "card",
		Use:     "readers",
		Short:   "List PC/SC readers",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			readers, err := cardlink.ListReaders()
			if err != nil {
				return err
			}
			if len(readers) == 0 {
				return cardlink.ErrNoReader
			}
			for i, name := range readers {
				fmt.Fprintf(cmd.OutOrStdout(), "%d: %s\n", i, name)
			}
			return nil
		},
	}
}
