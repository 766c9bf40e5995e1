// Package cmd holds the setool command tree.
package cmd

import (
	"fmt"
	"os"

	"github.com/gregLibert/secure-element/pkg/cardlink"
	"github.com/gregLibert/secure-element/pkg/config"
	"github.com/gregLibert/secure-element/pkg/tlv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// CmdSE is the root command.
var CmdSE = &cobra.Command{
	Use:   "setool",
	Short: "Secure element access control tool",
	Long: `Secure element access control tool

Reads the GlobalPlatform access rules of a UICC over PC/SC, evaluates
access decisions and sends APDUs through access-checked logical channels.`,
	SilenceUsage: true,
}

type globalFlags struct {
	configPath       string
	reader           string
	logLevel         string
	maxContinuations int
}

var flags globalFlags

func init() {
	cobra.EnableCommandSorting = false
	CmdSE.Root().CompletionOptions.HiddenDefaultCmd = true

	pf := CmdSE.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "", "TOML configuration file")
	pf.StringVarP(&flags.reader, "reader", "r", "", "PC/SC reader name (default: first reader)")
	pf.StringVar(&flags.logLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	pf.IntVar(&flags.maxContinuations, "max-continuations", 0, "Bound on 61XX/6CXX follow-ups per command")

	CmdSE.AddGroup(&cobra.Group{ID: "card", Title: "Card Commands"})
	CmdSE.AddCommand(cmdReaders())
	CmdSE.AddCommand(cmdRules())
	CmdSE.AddCommand(cmdCheck())
	CmdSE.AddCommand(cmdAPDU())
	CmdSE.AddCommand(cmdWatch())
}

// env is the state shared by the subcommands: settings with flags applied,
// and the logger built from them.
type env struct {
	cfg    config.Config
	logger zerolog.Logger
}

func loadEnv() (env, error) {
	cfg := config.Default()
	if flags.configPath != "" {
		var err error
		if cfg, err = config.Load(flags.configPath); err != nil {
			return env{}, err
		}
	}

	if flags.reader != "" {
		cfg.Reader = flags.reader
	}
	if flags.logLevel != "" {
		level, err := zerolog.ParseLevel(flags.logLevel)
		if err != nil {
			return env{}, fmt.Errorf("--log-level: %w", err)
		}
		cfg.LogLevel = level
	}
	if flags.maxContinuations > 0 {
		cfg.MaxContinuations = flags.maxContinuations
	}
	if err := cfg.Validate(); err != nil {
		return env{}, err
	}

	return env{cfg: cfg, logger: cfg.Logger(os.Stderr, CmdSE.Name())}, nil
}

func (e env) connect() (*cardlink.Reader, error) {
	reader, err := cardlink.Connect(e.cfg.Reader,
		cardlink.WithLogger(e.logger),
		cardlink.WithMaxContinuations(e.cfg.MaxContinuations))
	if err != nil {
		return nil, err
	}
	e.logger.Info().Str("reader", reader.Name).Msg("connected")
	return reader, nil
}

func (e env) release(reader *cardlink.Reader) {
	if err := reader.Close(); err != nil {
		e.logger.Warn().Err(err).Msg("failed to release reader")
	}
}

func parseHex(name, value string) ([]byte, error) {
	b, err := tlv.ParseHex(value)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return b, nil
}
