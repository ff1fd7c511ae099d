package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	evocaition "github.com/Paranoid-AF/evocaition"
)

func newSetCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> [value]",
		Short: "Update a setting in config.toml",
		Long: `Update a setting in config.toml. The value is converted to the
setting's type; an invalid value leaves the stored one untouched. Without a
value the new one is read from stdin. An empty value removes seed, apiKey
and apiEndpoint.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, ok := evocaition.LookupSetting(args[0])
			if !ok {
				return fmt.Errorf("unknown setting %q", args[0])
			}

			var raw string
			if len(args) == 2 {
				raw = args[1]
			} else {
				cfg, err := evocaition.LoadConfig()
				if err != nil {
					return err
				}
				current, _, _ := evocaition.GetSetting(cfg, s.Key)
				if s.Key == "apiKey" && current != "" {
					current = "***"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s [%s]: ", s.Prompt, current)
				line, err := bufio.NewReader(a.stdin).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read value: %w", err)
				}
				raw = strings.TrimRight(line, "\r\n")
			}

			value, err := evocaition.SetSetting(s.Key, raw)
			if err != nil {
				return err
			}
			switch {
			case value == nil:
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", s.Key)
			case s.Key == "apiKey":
				fmt.Fprintf(cmd.OutOrStdout(), "Updated %s\n", s.Key)
			default:
				fmt.Fprintf(cmd.OutOrStdout(), "Updated %s to %v\n", s.Key, value)
			}
			return nil
		},
	}
}

func newGetCommand(a *app) *cobra.Command {
	var showSecrets bool
	cmd := &cobra.Command{
		Use:   "get [key]",
		Short: "Print the effective configuration or one setting",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := evocaition.LoadConfig()
			if err != nil {
				return err
			}
			if !showSecrets {
				redacted := cfg.Redacted()
				cfg = &redacted
			}

			out := cmd.OutOrStdout()
			if len(args) == 1 {
				value, ok, err := evocaition.GetSetting(cfg, args[0])
				if err != nil {
					return err
				}
				if ok {
					fmt.Fprintln(out, value)
				}
				return nil
			}

			for _, s := range evocaition.Settings() {
				value, ok, _ := evocaition.GetSetting(cfg, s.Key)
				if !ok {
					value = "(unset)"
				}
				fmt.Fprintf(out, "%s = %s\n", s.Key, value)
			}
			for _, w := range evocaition.ValidateConfig(cfg) {
				a.log.Warn(w)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&showSecrets, "show-secrets", false, "print apiKey in clear text")
	return cmd
}
