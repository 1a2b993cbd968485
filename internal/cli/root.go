package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	storeimpl "github.com/minutemanhq/minuteman/external/store"
	"github.com/minutemanhq/minuteman/internal/config"
	"github.com/minutemanhq/minuteman/internal/daemon"
	"github.com/minutemanhq/minuteman/internal/store"
)

type Dependencies struct {
	Config *config.Config
}

func NewRootCmd(deps *Dependencies) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "minuteman",
		Short:        "Record meetings and track their analysis reports",
		Long:         "Captures meeting audio through minutemand, submits it to the analysis service and tracks each session from recording to finished report.",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newStartCmd(deps))
	rootCmd.AddCommand(newStopCmd(deps))
	rootCmd.AddCommand(newListCmd(deps))
	rootCmd.AddCommand(newShowCmd(deps))
	rootCmd.AddCommand(newRegenerateCmd(deps))
	rootCmd.AddCommand(newDeleteCmd(deps))
	rootCmd.AddCommand(newExportCmd(deps))
	rootCmd.AddCommand(newWatchCmd(deps))
	rootCmd.AddCommand(newDoctorCmd(deps))

	return rootCmd
}

func (d *Dependencies) connect() (*daemon.Client, error) {
	return daemon.Connect(d.Config.SocketPath)
}

// openStore opens the shared store directly for read paths; commands that
// mutate sessions always go through the daemon.
func (d *Dependencies) openStore() (store.Store, error) {
	if d.Config.DatabaseURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return storeimpl.NewPostgresStore(ctx, d.Config.DatabaseURL)
	}
	return storeimpl.NewSQLiteStore(d.Config.StorePath)
}
