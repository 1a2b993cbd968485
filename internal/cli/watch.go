package cli

import (
	"github.com/spf13/cobra"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/minutemanhq/minuteman/internal/tui"
)

func newWatchCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Watch sessions live",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := deps.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			program := tea.NewProgram(
				tui.New(deps.Config.SocketPath, st),
				tea.WithAltScreen(),
				tea.WithReportFocus(),
			)
			_, err = program.Run()
			return err
		},
	}
}
