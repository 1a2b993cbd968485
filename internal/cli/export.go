package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// mimeExtensions maps stored audio mime types to file extensions for
// exported recordings.
var mimeExtensions = map[string]string{
	"audio/opus": ".opus",
	"audio/ogg":  ".ogg",
	"audio/webm": ".webm",
	"audio/mp4":  ".m4a",
	"audio/mpeg": ".mp3",
	"audio/wav":  ".wav",
}

func extensionForMime(mime string) string {
	if ext, ok := mimeExtensions[mime]; ok {
		return ext
	}
	return ".bin"
}

func newExportCmd(deps *Dependencies) *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:   "export <session-id>",
		Short: "Write a session's cached audio to a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := deps.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			blob, err := st.GetBlob(ctx, args[0])
			if err != nil {
				return err
			}
			if blob == nil {
				return fmt.Errorf("no cached audio for session %s", args[0])
			}

			path := outPath
			if path == "" {
				path = args[0] + extensionForMime(blob.MimeType)
			}
			if err := os.WriteFile(path, blob.Data, 0o644); err != nil {
				return fmt.Errorf("write audio file: %w", err)
			}
			fmt.Printf("Wrote %d bytes to %s\n", len(blob.Data), path)
			return nil
		},
	}
	cmd.Flags().StringVarP(&outPath, "output", "o", "", "output file path")
	return cmd
}
