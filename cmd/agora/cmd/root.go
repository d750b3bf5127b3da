// Package cmd provides the CLI commands for Agora.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/agora-works/agora/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "agora",
	Short: "Agora - community governance engine",
	Long: `Agora resolves proposed changes against community-held authority.

Every mutation is an action: an actor proposes a change to a target
entity, and the engine decides it through three tiers of authority
(foundational, governing, specific). Decisions can suspend on conditions
such as approvals, votes, or consensus rounds, and related actions can
be batched into containers.

Quick start:
  1. Create a config file: agora.yaml
  2. Optionally write a seed file with initial communities and permissions
  3. Run: agora serve

Configuration:
  Config is loaded from agora.yaml in the current directory,
  $HOME/.agora/, or /etc/agora/.

  Environment variables can override config values with the AGORA_ prefix.
  Example: AGORA_SERVER_HTTP_ADDR=:9090

Commands:
  serve       Start the governance server
  validate    Validate the configuration and seed file
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
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./agora.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
