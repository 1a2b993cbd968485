package cli

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/spf13/cobra"

	analyzerimpl "github.com/minutemanhq/minuteman/external/analyzer"
)

func newDoctorCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check prerequisites",
		RunE: func(cmd *cobra.Command, args []string) error {
			ok := true

			if _, err := exec.LookPath("ffmpeg"); err != nil {
				printCheck("ffmpeg", false, "not found in PATH")
				ok = false
			} else {
				printCheck("ffmpeg", true, "installed")
			}

			if client, err := deps.connect(); err != nil {
				printCheck("daemon", false, fmt.Sprintf("cannot reach %s (is minutemand running?)", deps.Config.SocketPath))
				ok = false
			} else {
				client.Close()
				printCheck("daemon", true, deps.Config.SocketPath)
			}

			if st, err := deps.openStore(); err != nil {
				printCheck("store", false, err.Error())
				ok = false
			} else {
				st.Close()
				printCheck("store", true, "reachable")
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			analyzer := analyzerimpl.NewHTTPClient(deps.Config.AnalyzerBaseURL)
			if err := analyzer.Health(ctx); err != nil {
				printCheck("analysis service", false, fmt.Sprintf("%s: %v", deps.Config.AnalyzerBaseURL, err))
				ok = false
			} else {
				printCheck("analysis service", true, deps.Config.AnalyzerBaseURL)
			}

			if ok {
				fmt.Println("\nAll prerequisites met.")
				return nil
			}
			return fmt.Errorf("some prerequisites are missing")
		},
	}
}

func printCheck(name string, ok bool, detail string) {
	mark := "ok"
	if !ok {
		mark = "FAIL"
	}
	fmt.Printf("[%4s] %-18s %s\n", mark, name, detail)
}
