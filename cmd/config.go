package main

import (
	"net/url"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// configCmd prints the effective configuration after defaults, file and
// environment are merged. Secrets are redacted.
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		printable := *cfg
		if printable.Anthropic.Key != "" {
			printable.Anthropic.Key = "[redacted]"
		}
		if printable.Redis.Password != "" {
			printable.Redis.Password = "[redacted]"
		}
		if printable.Store.DatabaseURL != "" {
			printable.Store.DatabaseURL = redactDSN(printable.Store.DatabaseURL)
		}

		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		defer enc.Close()
		if err := enc.Encode(printable); err != nil {
			return eris.Wrap(err, "encode config")
		}
		return nil
	},
}

// redactDSN strips the password from a connection URL, leaving the rest
// readable.
func redactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn
	}
	if _, has := u.User.Password(); has {
		u.User = url.UserPassword(u.User.Username(), "redacted")
	}
	return u.String()
}

func init() {
	rootCmd.AddCommand(configCmd)
}
