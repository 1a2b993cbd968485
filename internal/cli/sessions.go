package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/minutemanhq/minuteman/internal/store"
)

func newListCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := deps.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			state, err := st.ReadAll(context.Background())
			if err != nil {
				return err
			}
			if len(state.Sessions) == 0 {
				fmt.Println("No sessions yet.")
				return nil
			}
			fmt.Printf("%-36s  %-10s  %-6s  %-16s  %s\n", "ID", "STATUS", "AUDIO", "CREATED", "TITLE")
			for _, s := range state.Sessions {
				audio := "-"
				if s.HasAudio {
					audio = "yes"
				}
				title := s.Title
				if title == "" {
					title = "(untitled)"
				}
				fmt.Printf("%-36s  %-10s  %-6s  %-16s  %s\n",
					s.ID, s.Status, audio, s.CreatedAt.Format("2006-01-02 15:04"), title)
			}
			return nil
		},
	}
}

func newShowCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "show <session-id>",
		Short: "Print a session's report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := deps.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			state, err := st.ReadAll(ctx)
			if err != nil {
				return err
			}
			sess := store.FindSession(state.Sessions, args[0])
			if sess == nil {
				return fmt.Errorf("unknown session %s", args[0])
			}
			if sess.SessionReport == nil {
				return fmt.Errorf("session %s has no report yet (status: %s)", sess.ID, sess.Status)
			}
			if sess.Title != "" {
				fmt.Printf("# %s\n\n", sess.Title)
			}
			fmt.Println(*sess.SessionReport)
			return nil
		},
	}
}
