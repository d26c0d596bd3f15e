package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

func newUploadCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "upload <image>",
		Short: "Upload an event poster",
		Long:  "Upload a JPEG, PNG, GIF or WebP poster of at most 5 MiB. Prints the path to use as the event's poster.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open poster: %w", err)
			}
			defer f.Close()

			up, err := a.client.UploadPoster(cmd.Context(), f.Name(), f)
			if err != nil {
				return err
			}
			return a.render(up, func(w io.Writer) {
				fmt.Fprintln(w, up.Filename)
			})
		},
	}
}
