package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"mercator-hq/webrelay/pkg/cli"
	"mercator-hq/webrelay/pkg/config"
	"mercator-hq/webrelay/pkg/security/secrets"
)

var validateFlags struct {
	checkSecrets bool
	output       string
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	Long: `Load and validate the configuration, then print the enabled backends.

With --check-secrets every secret a backend names is resolved through the
configured sources, so a missing token is found before the relay starts.

Examples:
  relay validate --config config.yaml
  relay validate --check-secrets --output json`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().BoolVar(&validateFlags.checkSecrets, "check-secrets", false, "resolve every configured secret")
	validateCmd.Flags().StringVarP(&validateFlags.output, "output", "o", "text", "output format (text, json, csv)")
}

func runValidate(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseFormat(validateFlags.output)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var sm *secrets.Manager
	if validateFlags.checkSecrets {
		sm, err = secrets.NewFromConfig(cfg.Secrets)
		if err != nil {
			return cli.NewConfigError("secrets", err.Error())
		}
		defer sm.Close()
	}

	table := cli.Table{Headers: []string{"Backend", "Enabled", "Base_URL", "Secrets"}}
	var missing []string
	for _, b := range backendSummaries(cfg.Backends) {
		var states []string
		for _, name := range b.secrets {
			state := name
			if sm != nil {
				if _, err := sm.GetSecret(commandContext(cmd), name); err != nil {
					state += " (missing)"
					if b.enabled {
						missing = append(missing, name)
					}
				} else {
					state += " (ok)"
				}
			}
			states = append(states, state)
		}
		table.Append(b.name, strconv.FormatBool(b.enabled), b.baseURL, strings.Join(states, ", "))
	}

	if err := cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), table); err != nil {
		return err
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return cli.NewConfigError("secrets", fmt.Sprintf("unresolved secrets: %s", strings.Join(missing, ", ")))
	}
	return nil
}

type backendSummary struct {
	name    string
	enabled bool
	baseURL string
	secrets []string
}

func backendSummaries(b config.BackendsConfig) []backendSummary {
	nonEmpty := func(names ...string) []string {
		var out []string
		for _, n := range names {
			if n != "" {
				out = append(out, n)
			}
		}
		return out
	}
	return []backendSummary{
		{"chatgpt", b.ChatGPT.Enabled, b.ChatGPT.BaseURL, nonEmpty(b.ChatGPT.SessionTokenSecret)},
		{"deepseek", b.DeepSeek.Enabled, b.DeepSeek.BaseURL, nonEmpty(b.DeepSeek.TokenSecret, b.DeepSeek.CookiesSecret)},
		{"huggingchat", b.HuggingChat.Enabled, b.HuggingChat.BaseURL, nonEmpty(b.HuggingChat.CookieSecret)},
		{"theb", b.TheB.Enabled, b.TheB.BaseURL, nonEmpty(b.TheB.AccountsSecret)},
	}
}
