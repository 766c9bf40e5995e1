package cmd

import (
	"fmt"

	"github.com/gregLibert/secure-element/pkg/access"
	"github.com/gregLibert/secure-element/pkg/arf"
	"github.com/spf13/cobra"
)

func cmdCheck() *cobra.Command {
	var hash, aid, app string

	cmd := &cobra.Command{
		GroupID: "card",
		Use:     "check",
		Short:   "Decide whether an application may reach an applet",
		Example: `  setool check --hash AABBCCDDEEFF00112233445566778899AABBCCDD --aid A0000001510001
  setool check -c setool.toml --app com.example.wallet --aid A0000001510001`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}

			var h []byte
			switch {
			case hash != "":
				if h, err = parseHex("--hash", hash); err != nil {
					return err
				}
			case app != "":
				if h, err = e.cfg.Resolver().CertificateHash(app); err != nil {
					return err
				}
			default:
				return fmt.Errorf("one of --hash or --app is required")
			}
			a, err := parseHex("--aid", aid)
			if err != nil {
				return err
			}

			reader, err := e.connect()
			if err != nil {
				return err
			}
			defer e.release(reader)

			enforcer := access.NewEnforcer(
				arf.NewReader(reader, arf.WithLogger(e.logger), arf.WithMaxContinuations(e.cfg.MaxContinuations)),
				access.WithLogger(e.logger))
			allowed, err := enforcer.IsAccessAllowed(h, a)
			if err != nil {
				return err
			}

			verdict := "denied"
			if allowed {
				verdict = "allowed"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%X -> %X: %s\n", h, a, verdict)
			return nil
		},
	}

	cmd.Flags().StringVar(&hash, "hash", "", "Certificate hash (hex, 20 bytes)")
	cmd.Flags().StringVar(&app, "app", "", "Application ID looked up in the configuration")
	cmd.Flags().StringVar(&aid, "aid", "", "Applet AID (hex)")
	_ = cmd.MarkFlagRequired("aid")
	cmd.MarkFlagsMutuallyExclusive("hash", "app")
	return cmd
}
