package cmd

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tmarchini/personaforge/internal/config"
	"github.com/tmarchini/personaforge/internal/persona"
)

var personasCmd = &cobra.Command{
	Use:   "personas",
	Short: "Manage persona definitions",
}

var personasListCmd = &cobra.Command{
	Use:   "list",
	Short: "List available personas",
	Run: func(cmd *cobra.Command, args []string) {
		reg := openRegistry()
		names := reg.List()
		if len(names) == 0 {
			fmt.Printf("no personas in %s\n", reg.Dir())
			return
		}
		for _, name := range names {
			p, err := reg.Get(name)
			if err != nil {
				fmt.Printf("%-20s (broken: %v)\n", name, err)
				continue
			}
			fmt.Printf("%-20s %s\n", name, p.Role)
		}
	},
}

var personasShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Show one persona definition",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		reg := openRegistry()
		p, err := reg.Get(args[0])
		if err != nil {
			log.Fatalf("persona %q: %v", args[0], err)
		}
		out, err := persona.Encode(p, persona.FormatYAML)
		if err != nil {
			log.Fatalf("encode: %v", err)
		}
		fmt.Print(string(out))
	},
}

var personasValidateCmd = &cobra.Command{
	Use:   "validate <file>...",
	Short: "Validate persona files without installing them",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		failed := 0
		for _, path := range args {
			data, err := os.ReadFile(path)
			if err != nil {
				fmt.Printf("%s: %v\n", path, err)
				failed++
				continue
			}
			format, err := persona.FormatForPath(path)
			if err != nil {
				fmt.Printf("%s: %v\n", path, err)
				failed++
				continue
			}
			p, err := persona.Decode(data, format)
			if err != nil {
				fmt.Printf("%s: %v\n", path, err)
				failed++
				continue
			}
			fmt.Printf("%s: ok (%s)\n", path, p.Name)
		}
		if failed > 0 {
			os.Exit(1)
		}
	},
}

func openRegistry() *persona.Registry {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	dir := strings.TrimSpace(cfg.PersonaDir)
	reg, err := persona.NewRegistry(dir)
	if err != nil {
		log.Fatalf("open persona registry %s: %v", dir, err)
	}
	return reg
}

func init() {
	personasCmd.AddCommand(personasListCmd)
	personasCmd.AddCommand(personasShowCmd)
	personasCmd.AddCommand(personasValidateCmd)
	rootCmd.AddCommand(personasCmd)
}
