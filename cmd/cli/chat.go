package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/dvloznov/aegis/internal/conversation"
	"github.com/dvloznov/aegis/internal/orchestrator"
)

func (c *cli) chatCommand() *cobra.Command {
	var (
		token   string
		dbNames []string
	)

	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Ask a question, or start an interactive session without a message",
		RunE: func(cmd *cobra.Command, args []string) error {
			if token == "" {
				token = c.app.Config.APIKey
			}
			if len(args) > 0 {
				history := []conversation.Message{{Role: "user", Content: strings.Join(args, " ")}}
				_, err := c.turn(cmd, history, token, dbNames)
				return err
			}

			var history []conversation.Message
			scanner := bufio.NewScanner(os.Stdin)
			for {
				fmt.Print("> ")
				if !scanner.Scan() {
					return scanner.Err()
				}
				line := strings.TrimSpace(scanner.Text())
				if line == "" {
					continue
				}
				if line == "exit" || line == "quit" {
					return nil
				}
				history = append(history, conversation.Message{Role: "user", Content: line})
				answer, err := c.turn(cmd, history, token, dbNames)
				if err != nil {
					fmt.Fprintln(os.Stderr, "Error:", err)
					continue
				}
				history = append(history, conversation.Message{Role: "assistant", Content: answer})
			}
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "LLM credential (defaults to AEGIS_LLM_API_KEY)")
	cmd.Flags().StringSliceVar(&dbNames, "db", nil, "Restrict the databases consulted")
	return cmd
}

// turn runs one request and prints its events as they arrive.
func (c *cli) turn(cmd *cobra.Command, history []conversation.Message, token string, dbNames []string) (string, error) {
	out := cmd.OutOrStdout()
	last := ""
	outcome, err := c.app.Model.Run(cmd.Context(), orchestrator.Request{
		Messages:    history,
		DBNames:     dbNames,
		AuthToken:   token,
		ExecutionID: uuid.NewString(),
	}, func(ev orchestrator.Event) {
		switch ev.Type {
		case orchestrator.EventError:
			fmt.Fprintf(out, "\n[error] %s\n", ev.Content)
		case orchestrator.EventDone:
			fmt.Fprintln(out)
		default:
			if ev.Name != last {
				fmt.Fprintf(out, "\n[%s]\n", ev.Name)
				last = ev.Name
			}
			fmt.Fprint(out, ev.Content)
		}
	})
	if err != nil {
		return "", err
	}
	return outcome.Answer, nil
}
