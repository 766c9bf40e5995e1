package cmd

import (
	"fmt"

	"github.com/gregLibert/secure-element/pkg/arf"
	"github.com/gregLibert/secure-element/pkg/tlv"
	"github.com/spf13/cobra"
)

func cmdRules() *cobra.Command {
	var dump bool

	cmd := &cobra.Command{
		GroupID: "card",
		Use:     "rules",
		Short:   "Read and print the access rules of the card",
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

			out := cmd.OutOrStdout()
			opts := []arf.Option{
				arf.WithLogger(e.logger),
				arf.WithMaxContinuations(e.cfg.MaxContinuations),
			}
			if dump {
				opts = append(opts, arf.WithFileHook(func(path []byte, content *tlv.Node) {
					fmt.Fprintf(out, "--- file %X\n%s\n", path, tlv.Describe(content))
				}))
			}

			rules, err := arf.NewReader(reader, opts...).Refresh()
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "refresh tag: %X\n", rules.RefreshTag)
			if rules.IsEmpty() {
				fmt.Fprintln(out, "no rules: every access is denied")
			}
			for i, r := range rules.Rules {
				fmt.Fprintf(out, "%3d  %s\n", i, r)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dump, "dump", false, "Print the decoded content of every rule file")
	return cmd
}
