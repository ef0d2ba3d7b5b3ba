package cmd

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tmarchini/personaforge/internal/config"
	"github.com/tmarchini/personaforge/internal/inference"
)

var chatPersona string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with a persona in the terminal",
	Long: `Starts an interactive conversation in the terminal. The assistant
reply streams token by token when the backend supports it. Type /quit to
leave.`,
	Run: func(cmd *cobra.Command, args []string) {
		runChat()
	},
}

func init() {
	chatCmd.Flags().StringVarP(&chatPersona, "persona", "p", "", "persona to chat with (default from config)")
	rootCmd.AddCommand(chatCmd)
}

func runChat() {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx := context.Background()
	st, err := buildStack(ctx, cfg)
	if err != nil {
		log.Fatalf("startup failed: %v", err)
	}
	defer st.store.Close()

	name := strings.TrimSpace(chatPersona)
	if name == "" {
		name = cfg.DefaultPersona
	}
	p, err := st.personas.Get(name)
	if err != nil {
		log.Fatalf("persona %q: %v", name, err)
	}

	sess := st.sessions.Create("terminal", p.Name)
	fmt.Printf("Chatting with %s (%s). Type /quit to leave.\n\n", p.Name, p.Role)

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 64*1024)
	for {
		fmt.Print("you> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			break
		}

		fmt.Printf("%s> ", p.Name)
		streamed := false
		onDelta := func(delta string) error {
			streamed = true
			fmt.Print(delta)
			return nil
		}
		reply, err := st.runner.RunTurn(ctx, sess.ID, line, onDelta)
		if err != nil {
			kind := inference.KindOf(err)
			if kind != "" {
				fmt.Printf("[%s] %v\n", kind, err)
			} else {
				fmt.Printf("[error] %v\n", err)
			}
			continue
		}
		if !streamed {
			fmt.Print(reply)
		}
		fmt.Println()
	}

	if _, err := st.sessions.End(sess.ID); err == nil {
		fmt.Println("session ended")
	}
}
