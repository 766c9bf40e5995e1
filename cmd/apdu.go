package cmd

import (
	"fmt"

	"github.com/gregLibert/secure-element/pkg/access"
	"github.com/gregLibert/secure-element/pkg/arf"
	"github.com/gregLibert/secure-element/pkg/channel"
	"github.com/spf13/cobra"
)

func cmdAPDU() *cobra.Command {
	var app, aid string

	cmd := &cobra.Command{
		GroupID: "card",
		Use:     "apdu --app ID --aid AID APDU...",
		Short:   "Send APDUs to an applet through an access-checked channel",
		Example: `  setool apdu -c setool.toml --app com.example.wallet --aid A0000001510001 80CA9F7F00`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}
			a, err := parseHex("--aid", aid)
			if err != nil {
				return err
			}
			apdus := make([][]byte, len(args))
			for i, arg := range args {
				if apdus[i], err = parseHex(fmt.Sprintf("APDU %d", i+1), arg); err != nil {
					return err
				}
			}

			reader, err := e.connect()
			if err != nil {
				return err
			}
			defer e.release(reader)

			enforcer := access.NewEnforcer(
				arf.NewReader(reader, arf.WithLogger(e.logger), arf.WithMaxContinuations(e.cfg.MaxContinuations)),
				access.WithLogger(e.logger))
			reg := channel.NewRegistry(reader, enforcer, e.cfg.Resolver(),
				channel.WithLogger(e.logger),
				channel.WithMaxContinuations(e.cfg.MaxContinuations))
			stopWatch := reg.Follow(cmd.Context(), reader)
			defer func() {
				if err := stopWatch(); err != nil {
					e.logger.Warn().Err(err).Msg("card watch stopped")
				}
			}()
			defer func() {
				if err := reg.ReleaseApp(app); err != nil {
					e.logger.Warn().Err(err).Str("app", app).Msg("release failed")
				}
			}()

			session, err := reg.OpenSession(app, channel.UICC)
			if err != nil {
				return err
			}
			ch, err := reg.OpenChannel(app, session.Token, channel.UICC, a)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "select: %X\n", ch.SelectResponse)
			for _, apdu := range apdus {
				resp, err := reg.Transmit(app, ch.Token, apdu)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, ">> %X\n<< %X %s\n", apdu, resp.Data, resp.Status.Verbose())
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&app, "app", "", "Application ID registered in the configuration")
	cmd.Flags().StringVar(&aid, "aid", "", "Applet AID (hex)")
	_ = cmd.MarkFlagRequired("app")
	_ = cmd.MarkFlagRequired("aid")
	return cmd
}
