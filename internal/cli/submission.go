package cli

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/afromemo/afromemo/internal/agenda"
	"github.com/afromemo/afromemo/internal/i18n"
	"github.com/afromemo/afromemo/internal/submission"
)

func newSubmissionCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "submission",
		Aliases: []string{"sub"},
		Short:   "Propose events and follow their moderation",
		Long: `Events proposed by visitors are identified by the tokens sent to
their author by email. Every command taking a <token> also accepts the full
link from the email.`,
	}
	cmd.AddCommand(
		newSubmissionCreateCmd(a),
		newSubmissionShowCmd(a),
		newSubmissionEditCmd(a),
		newSubmissionConfirmCmd(a),
		newSubmissionCancelCmd(a),
		newSubmissionPublishCmd(a),
		newSubmissionListCmd(a),
		newSubmissionDiffCmd(a),
	)
	return cmd
}

type draftFlags struct {
	file    string
	email   string
	consent bool
}

func (f *draftFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.file, "file", "f", "", "Event file (YAML or JSON, - for stdin)")
	cmd.Flags().StringVar(&f.email, "email", "", "Contact email of the author")
	cmd.Flags().BoolVar(&f.consent, "accept-terms", false, "Accept the terms of use")
	_ = cmd.MarkFlagRequired("file")
}

func (f *draftFlags) draft() (submission.Draft, error) {
	e, err := readEntry(f.file)
	if err != nil {
		return submission.Draft{}, err
	}
	email := f.email
	if email == "" {
		email = e.Email
	}
	e.Email = ""
	return submission.Draft{Entry: e, Email: email, Consent: f.consent}, nil
}

func newSubmissionCreateCmd(a *app) *cobra.Command {
	var f draftFlags
	cmd := &cobra.Command{
		Use:   "create --file event.yaml --email you@example.org --accept-terms",
		Short: "Propose a new event",
		Long:  "Propose a new event. A confirmation link is sent to the email address.",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := f.draft()
			if err != nil {
				return err
			}
			if err := a.manager.Create(cmd.Context(), d); err != nil {
				return err
			}
			a.say(i18n.KeySubmissionCreated)
			return nil
		},
	}
	f.register(cmd)
	return cmd
}

type submissionView struct {
	ID    string       `json:"id" yaml:"id"`
	Email string       `json:"email" yaml:"email"`
	State string       `json:"state" yaml:"state"`
	Event agenda.Entry `json:"event" yaml:"event"`
}

func newSubmissionShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <token>",
		Short: "Show a submission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sub, err := a.manager.Load(cmd.Context(), submission.ParseToken(args[0]))
			if err != nil {
				return err
			}
			view := submissionView{ID: sub.ID, Email: sub.Email, State: sub.State.String(), Event: sub.Entry}
			return a.render(view, func(w io.Writer) {
				fmt.Fprintf(w, "%-12s %s\n", "State:", sub.State)
				fmt.Fprintf(w, "%-12s %s\n", "Email:", sub.Email)
				printEntry(w, sub.Entry)
			})
		},
	}
}

func newSubmissionEditCmd(a *app) *cobra.Command {
	var f draftFlags
	cmd := &cobra.Command{
		Use:   "edit <token> --file event.yaml",
		Short: "Replace the content of a submission",
		Long:  "Replace the content of a submission. A published event goes back to moderation.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := f.draft()
			if err != nil {
				return err
			}
			// Terms were accepted when the event was first proposed.
			d.Consent = true
			if err := a.manager.Edit(cmd.Context(), submission.ParseToken(args[0]), d); err != nil {
				return err
			}
			a.say(i18n.KeySubmissionUpdated)
			return nil
		},
	}
	f.register(cmd)
	return cmd
}

func newSubmissionConfirmCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "confirm <token>",
		Short: "Confirm the email address of a submission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			already, err := a.manager.Confirm(cmd.Context(), submission.ParseToken(args[0]))
			if err != nil {
				return err
			}
			if already && a.opts.output == "text" {
				fmt.Fprintln(a.out, "Already confirmed")
				return nil
			}
			a.say(i18n.KeySubmissionConfirmed)
			return nil
		},
	}
}

func newSubmissionCancelCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <token>",
		Short: "Withdraw a submission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.manager.Cancel(cmd.Context(), submission.ParseToken(args[0])); err != nil {
				return err
			}
			a.say(i18n.KeySubmissionDeleted)
			return nil
		},
	}
}

func newSubmissionPublishCmd(a *app) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "publish <token>",
		Short: "Publish a submission (administrators)",
		Long:  "Publish a submission. --file replaces its content with a moderated version.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			token := submission.ParseToken(args[0])
			var entry agenda.Entry
			if file != "" {
				e, err := readEntry(file)
				if err != nil {
					return err
				}
				entry = e
			} else {
				sub, err := a.manager.Load(ctx, token)
				if err != nil {
					return err
				}
				entry = sub.Entry
			}
			if err := a.manager.Publish(ctx, token, entry); err != nil {
				return err
			}
			a.say(i18n.KeySubmissionPublished)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Moderated event file (YAML or JSON, - for stdin)")
	return cmd
}

func newSubmissionListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List submissions awaiting moderation (administrators)",
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := a.manager.ListSubmissions(cmd.Context())
			if err != nil {
				return err
			}
			if entries == nil {
				entries = []agenda.Entry{}
			}
			return a.render(entries, func(w io.Writer) {
				if len(entries) == 0 {
					fmt.Fprintln(w, "No submissions found.")
					return
				}
				fmt.Fprintf(w, "%-36s  %-10s  %-11s  %-30s  %s\n", "ID", "STATUS", "DATE", "EMAIL", "TITLE")
				for _, e := range entries {
					fmt.Fprintf(w, "%-36s  %-10s  %-11s  %-30s  %s\n", e.ID, e.Status, e.StartDate, e.Email, e.Title)
				}
			})
		},
	}
}

func newSubmissionDiffCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "diff <id>",
		Short: "Compare a submission with its published version (administrators)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			diff, err := a.manager.Diff(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.render(diff, func(w io.Writer) {
				if len(diff) == 0 {
					fmt.Fprintln(w, "No differences.")
					return
				}
				fields := make([]string, 0, len(diff))
				for name := range diff {
					fields = append(fields, name)
				}
				sort.Strings(fields)
				for _, name := range fields {
					fmt.Fprintf(w, "%s:\n  - %v\n  + %v\n", name, diff[name].Old, diff[name].New)
				}
			})
		},
	}
}
