package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/afromemo/afromemo/internal/agenda"
	"github.com/afromemo/afromemo/internal/ical"
)

func newAgendaCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agenda",
		Short: "Browse and moderate agenda events",
	}
	cmd.AddCommand(
		newAgendaListCmd(a),
		newAgendaShowCmd(a),
		newAgendaCreateCmd(a),
		newAgendaStatusCmd(a),
		newAgendaExportCmd(a),
	)
	return cmd
}

func newAgendaListCmd(a *app) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List published events",
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := a.client.ListAgenda(cmd.Context(), all)
			if err != nil {
				return err
			}
			if entries == nil {
				entries = []agenda.Entry{}
			}
			return a.render(entries, func(w io.Writer) { printEntries(w, entries) })
		},
	}
	cmd.Flags().BoolVar(&all, "admin", false, "List every event whatever its status (administrators)")
	return cmd
}

func newAgendaShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := a.client.GetAgendaEntry(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.render(e, func(w io.Writer) { printEntry(w, e) })
		},
	}
}

func newAgendaCreateCmd(a *app) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "create --file event.yaml",
		Short: "Add an event directly to the agenda (administrators)",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := readEntry(file)
			if err != nil {
				return err
			}
			if !e.Status.Valid() || e.Status == agenda.StatusInactive {
				e.Status = agenda.StatusActive
			}
			created, err := a.client.CreateAgendaEntry(cmd.Context(), e)
			if err != nil {
				return err
			}
			return a.render(created, func(w io.Writer) {
				fmt.Fprintf(w, "Event created: %s\n", created.ID)
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Event file (YAML or JSON, - for stdin)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newAgendaStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status <id> <status>",
		Short: "Change the status of an event (administrators)",
		Long:  "Status is one of inactive, active, pending, deleted, removed, archived or its number.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := agenda.ParseStatus(args[1])
			if err != nil {
				return err
			}
			if err := a.manager.ChangeStatus(cmd.Context(), args[0], status); err != nil {
				return err
			}
			if a.opts.output == "text" {
				fmt.Fprintf(a.out, "Event %s is now %s\n", args[0], status)
			}
			return nil
		},
	}
}

func newAgendaExportCmd(a *app) *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:   "export <id>",
		Short: "Export an event as an iCalendar file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := a.client.GetAgendaEntry(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			ics, err := ical.Build(e, a.now(), ical.Options{
				Location: a.cfg.Location(),
				BaseURL:  a.cfg.Server,
				Domain:   "afromemo.ch",
			})
			if err != nil {
				return err
			}
			switch outPath {
			case "-":
				_, err = io.WriteString(a.out, ics)
				return err
			case "":
				outPath = ical.FileName(e)
			}
			if info, err := os.Stat(outPath); err == nil && info.IsDir() {
				outPath = filepath.Join(outPath, ical.FileName(e))
			}
			if err := os.WriteFile(outPath, []byte(ics), 0o644); err != nil {
				return fmt.Errorf("write calendar file: %w", err)
			}
			fmt.Fprintf(a.errOut, "Saved %s\n", outPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&outPath, "out", "", "Output file or directory, - for stdout (default: <title>.ics)")
	return cmd
}
