// Package cmd provides the CLI commands for seclens.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/seclens/seclens/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "seclens",
	Short: "seclens - MCP authorization and tool server",
	Long: `seclens is an MCP server that authorizes and executes tool calls
against a security catalog: requirements, assets, risk assessments and
the vulnerability exception workflow.

Credentials authenticate machine clients; delegation lets a credential
act on behalf of a named user, with the effective permissions being the
intersection of what the credential grants and what the user's roles
imply.

Quick start:
  1. Create a config file: seclens.yaml
  2. Provision a credential: seclens hash-key "my-secret"
  3. Run: seclens serve

Configuration:
  Config is loaded from seclens.yaml in the current directory,
  $HOME/.seclens/, or /etc/seclens/.

  Environment variables can override config values with the SECLENS_
  prefix. Example: SECLENS_SERVER_HTTP_ADDR=:9090

Commands:
  serve       Start the MCP server
  hash-key    Generate a credential secret hash for the seed file
  version     Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./seclens.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
