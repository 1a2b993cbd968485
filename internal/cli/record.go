package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/minutemanhq/minuteman/internal/daemon"
)

func newStartCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start recording a meeting",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := deps.connect()
			if err != nil {
				return err
			}
			defer client.Close()

			resp, err := client.SendCommand(daemon.Command{Action: daemon.ActionStartRecording})
			if err != nil {
				return err
			}
			if !resp.OK {
				return fmt.Errorf("%s", resp.Error)
			}
			fmt.Printf("Recording started (session %s)\n", resp.SessionID)
			return nil
		},
	}
}

func newStopCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the active recording and submit it for analysis",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := deps.connect()
			if err != nil {
				return err
			}
			defer client.Close()

			resp, err := client.SendCommand(daemon.Command{Action: daemon.ActionStopRecording})
			if err != nil {
				return err
			}
			if !resp.OK {
				return fmt.Errorf("%s", resp.Error)
			}
			fmt.Printf("Recording stopped; session %s is being analyzed\n", resp.SessionID)
			return nil
		},
	}
}

func newRegenerateCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "regenerate <session-id>",
		Short: "Re-run analysis for a finished or failed session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := deps.connect()
			if err != nil {
				return err
			}
			defer client.Close()

			resp, err := client.SendCommand(daemon.Command{
				Action:         daemon.ActionProcessSessionAudio,
				SessionID:      args[0],
				IsRegeneration: true,
			})
			if err != nil {
				return err
			}
			if !resp.OK {
				return fmt.Errorf("%s", resp.Error)
			}
			fmt.Printf("Session %s is being re-analyzed\n", resp.SessionID)
			return nil
		},
	}
}

func newDeleteCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session and its cached audio",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := deps.connect()
			if err != nil {
				return err
			}
			defer client.Close()

			resp, err := client.SendCommand(daemon.Command{
				Action:    daemon.ActionDeleteSession,
				SessionID: args[0],
			})
			if err != nil {
				return err
			}
			if !resp.OK {
				return fmt.Errorf("%s", resp.Error)
			}
			fmt.Printf("Session %s deleted\n", resp.SessionID)
			return nil
		},
	}
}
