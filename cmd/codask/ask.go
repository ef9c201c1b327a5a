package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"codask/internal/assistant"
	"codask/internal/session"

	"github.com/spf13/cobra"
)

var (
	sessionID    string
	showEvidence bool
	jsonOutput   bool
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask one question; pass --session to continue a conversation",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()
		svc, _, err := a.service(ctx)
		if err != nil {
			return err
		}
		defer svc.Close()

		ans, err := svc.Ask(ctx, sessionID, strings.Join(args, " "))
		if err != nil {
			return err
		}
		return printAnswer(cmd.OutOrStdout(), ans)
	},
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive conversation in one session (/reset, /history, /quit)",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()
		svc, loaded, err := a.service(ctx)
		if err != nil {
			return err
		}
		defer svc.Close()

		out := cmd.OutOrStdout()
		id := sessionID
		fmt.Fprintf(out, "codask: %d units indexed from %s. Start a question with \"think\" to debug.\n",
			loaded.Catalog.Stats().Units, loaded.Root)

		in := bufio.NewScanner(cmd.InOrStdin())
		for {
			fmt.Fprint(out, "> ")
			if !in.Scan() {
				return in.Err()
			}
			line := strings.TrimSpace(in.Text())
			switch {
			case line == "":
				continue
			case line == "/quit" || line == "/exit":
				return nil
			case line == "/reset":
				if id != "" {
					if err := svc.ResetSession(ctx, id); err != nil {
						return err
					}
				}
				fmt.Fprintln(out, "session cleared")
				continue
			case line == "/history":
				if id == "" {
					fmt.Fprintln(out, "no turns yet")
					continue
				}
				turns, err := svc.History(ctx, id)
				if err != nil {
					return err
				}
				printHistory(out, turns)
				continue
			}

			ans, err := svc.Ask(ctx, id, line)
			if err != nil {
				fmt.Fprintln(out, "error:", err)
				continue
			}
			id = ans.SessionID
			if err := printAnswer(out, ans); err != nil {
				return err
			}
		}
	},
}

var historyCmd = &cobra.Command{
	Use:   "history [session-id]",
	Short: "Show the turns of a session, or list stored sessions",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()
		out := cmd.OutOrStdout()

		if len(args) == 0 {
			ids, err := a.store.SessionIDs(ctx)
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Fprintln(out, id)
			}
			return nil
		}

		sessions := session.NewManager(session.WithStore(a.store), session.WithLogger(a.logger))
		defer sessions.Close()
		turns, err := sessions.History(ctx, args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return writeJSON(out, turns)
		}
		printHistory(out, turns)
		return nil
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset <session-id>",
	Short: "Clear the history of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		sessions := session.NewManager(session.WithStore(a.store), session.WithLogger(a.logger))
		defer sessions.Close()
		if err := sessions.Reset(ctx, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "session %s cleared\n", args[0])
		return nil
	},
}

func printAnswer(out io.Writer, ans assistant.Answer) error {
	if jsonOutput {
		return writeJSON(out, ans)
	}
	fmt.Fprintln(out, ans.Text)
	fmt.Fprintf(out, "\n[session %s, turn %d, context %s (%s)", ans.SessionID, ans.Turn, ans.Mode, ans.Reason)
	if ans.Degraded {
		fmt.Fprint(out, ", retrieval unavailable")
	}
	if ans.GenerationFailed {
		fmt.Fprint(out, ", model unavailable")
	}
	fmt.Fprintln(out, "]")
	if len(ans.Sources) > 0 {
		fmt.Fprintln(out, "Sources:")
		for _, s := range ans.Sources {
			fmt.Fprintf(out, "  %s (%s %.2f)\n", s.UnitID, s.Source, s.Score)
		}
	}
	if showEvidence {
		fmt.Fprintln(out, "\n"+ans.Evidence)
	}
	return nil
}

func printHistory(out io.Writer, turns []session.Turn) {
	for _, t := range turns {
		fmt.Fprintf(out, "#%d [%s] %s\n", t.Index, t.Mode, t.Query)
		fmt.Fprintf(out, "   %s\n", strings.ReplaceAll(strings.TrimSpace(t.Answer), "\n", "\n   "))
		if t.Plan != nil {
			fmt.Fprintf(out, "   plan %s: %d steps\n", t.Plan.State, len(t.Plan.Steps))
		}
	}
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	for _, c := range []*cobra.Command{askCmd, chatCmd} {
		c.Flags().StringVarP(&sessionID, "session", "s", "", "Session id to continue")
		c.Flags().BoolVarP(&showEvidence, "evidence", "e", false, "Print the rendered evidence")
	}
	askCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the answer as JSON")
	historyCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the turns as JSON")
}
