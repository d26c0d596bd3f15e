package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/afromemo/afromemo/internal/agenda"
)

// render writes v in the selected output format. text prints the human form.
func (a *app) render(v any, text func(w io.Writer)) error {
	switch a.opts.output {
	case "json":
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(a.out)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		text(a.out)
		return nil
	}
}

func printEntries(w io.Writer, entries []agenda.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No events found.")
		return
	}
	fmt.Fprintf(w, "%-36s  %-10s  %-11s  %-5s  %s\n", "ID", "STATUS", "DATE", "TIME", "TITLE")
	for _, e := range entries {
		fmt.Fprintf(w, "%-36s  %-10s  %-11s  %-5s  %s\n", e.ID, e.Status, e.StartDate, e.StartTime, e.Title)
	}
}

func printEntry(w io.Writer, e agenda.Entry) {
	row := func(label, value string) {
		if strings.TrimSpace(value) != "" {
			fmt.Fprintf(w, "%-12s %s\n", label+":", value)
		}
	}
	row("ID", e.ID)
	row("Title", e.Title)
	row("Subtitle", e.Subtitle)
	row("Status", e.Status.String())
	row("Venue", e.VenueName)
	row("Address", e.Address)
	row("Place", e.Place)
	period := e.StartDate
	if e.EndDate != "" && e.EndDate != e.StartDate {
		period += " - " + e.EndDate
	}
	row("Date", period)
	hours := e.StartTime
	if e.EndTime != "" {
		hours += " - " + e.EndTime
	}
	row("Time", hours)
	row("Price", string(e.Price))
	row("Category", e.Category)
	row("Tags", strings.Join(e.Tags, ", "))
	row("Link", e.Link)
	row("Poster", e.Poster)
	row("Description", e.Description)
	row("Infos", e.Infos)
}

// readEntry loads an event from a YAML or JSON file, "-" meaning stdin.
func readEntry(path string) (agenda.Entry, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return agenda.Entry{}, fmt.Errorf("read event file: %w", err)
	}
	var e agenda.Entry
	// JSON documents are valid YAML; field names match the API's lowercase keys.
	if err := yaml.Unmarshal(data, &e); err != nil {
		return agenda.Entry{}, fmt.Errorf("parse event file: %w", err)
	}
	return e, nil
}
