package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gregLibert/secure-element/pkg/cardlink"
	"github.com/spf13/cobra"
)

func cmdWatch() *cobra.Command {
	return &cobra.Command{
		GroupID: "card",
		Use:     "watch",
		Short:   "Follow card insertion and removal until interrupted",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}
			reader, err := e.connect()
			if err != nil {
				return err
			}
			defer e.release(reader)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %s\n", reader.Name, reader.State())
			return reader.Watch(ctx, func(state cardlink.State) {
				fmt.Fprintf(out, "%s: %s\n", reader.Name, state)
			})
		},
	}
}
