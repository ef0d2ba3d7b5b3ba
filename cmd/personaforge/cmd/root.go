package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "personaforge",
	Short: "Persona-driven conversational assistant service",
	Long: `personaforge manages reusable persona definitions and runs
conversations with them, either as an HTTP/WebSocket service or as an
interactive terminal chat.

Personas are YAML or TOML files holding a character's role, guidelines,
style and generation parameters. The same definition drives every
conversation surface.`,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/personaforge/config.toml)")
}
