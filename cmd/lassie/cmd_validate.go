package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/yairfalse/lassie/internal/config"
	"github.com/yairfalse/lassie/internal/kinds"
)

var validateCmd = &cobra.Command{
	Use:   "validate [start-date]",
	Short: "Check the configuration and start date without touching any account",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		startArg := ""
		if len(args) == 1 {
			startArg = args[0]
		}
		return validate(configPath, startArg, time.Now(), cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

// validate loads the config, resolves every kind name and interprets the
// start date, reporting all unknown kinds at once.
func validate(path, startArg string, now time.Time, w io.Writer) error {
	cfg, err := loadConfig(path)
	if err != nil {
		return err
	}
	start, err := config.StartDate(startArg, now)
	if err != nil {
		return err
	}

	var errs []error
	triples := 0
	for _, account := range cfg.Accounts {
		for _, name := range account.Kinds {
			if _, err := kinds.Lookup(name); err != nil {
				errs = append(errs, fmt.Errorf("account %s: %w", account.Label(), err))
			}
		}
		triples += len(account.Regions) * len(account.Kinds)
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	_, err = fmt.Fprintf(w, "config ok: %d accounts, %d account/region/kind triples, logs from %s\n",
		len(cfg.Accounts), triples, start.Format(config.DateLayout))
	return err
}
