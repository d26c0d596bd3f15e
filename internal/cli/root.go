package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/afromemo/afromemo/internal/apiclient"
	"github.com/afromemo/afromemo/internal/config"
	"github.com/afromemo/afromemo/internal/i18n"
	"github.com/afromemo/afromemo/internal/localstore"
	"github.com/afromemo/afromemo/internal/logging"
	"github.com/afromemo/afromemo/internal/metrics"
	"github.com/afromemo/afromemo/internal/session"
	"github.com/afromemo/afromemo/internal/submission"
)

type options struct {
	server    string
	storage   string
	stateDir  string
	lang      string
	output    string
	debug     bool
	logLevel  string
	logFormat string
	pushURL   string
}

// app holds what every subcommand needs once the root flags are parsed.
type app struct {
	cfg     *config.ClientConfig
	opts    *options
	logger  *slog.Logger
	storage localstore.Storage
	session *session.Store
	jar     *apiclient.Jar
	client  *apiclient.Client
	manager *submission.Manager
	out     io.Writer
	errOut  io.Writer
	now     func() time.Time
}

// NewRootCmd creates the root cobra command for the afromemo CLI.
func NewRootCmd() *cobra.Command {
	opts := &options{}
	a := &app{opts: opts, now: time.Now}

	root := &cobra.Command{
		Use:   "afromemo",
		Short: "Afromémo agenda client",
		Long:  "afromemo proposes events to the Afromémo agenda and lets administrators moderate them.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.server, "server", "", "API server URL (or AFROMEMO_SERVER env)")
	flags.StringVar(&opts.storage, "storage", "", "Session storage: file, sqlite or memory (or AFROMEMO_STORAGE env)")
	flags.StringVar(&opts.stateDir, "state-dir", "", "Directory holding the session (or AFROMEMO_STATE_DIR env)")
	flags.StringVar(&opts.lang, "lang", "", "Message language: fr or en (or AFROMEMO_LANG env)")
	flags.StringVarP(&opts.output, "output", "o", "text", "Output format (text, json, yaml)")
	flags.BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	flags.StringVar(&opts.logFormat, "log-format", "text", "Log format (text, json)")
	flags.StringVar(&opts.pushURL, "pushgateway", "", "Pushgateway receiving client metrics (or AFROMEMO_PUSHGATEWAY env)")

	root.AddCommand(
		newLoginCmd(a),
		newLogoutCmd(a),
		newWhoamiCmd(a),
		newAgendaCmd(a),
		newSubmissionCmd(a),
		newUploadCmd(a),
	)
	return root
}

// Execute runs the CLI and prints failures the way the agenda shows them to users.
func Execute(ctx context.Context) int {
	root := NewRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		lang, _ := root.PersistentFlags().GetString("lang")
		if lang == "" {
			lang = os.Getenv("AFROMEMO_LANG")
		}
		fmt.Fprintln(root.ErrOrStderr(), errorMessage(err, lang))
		return 1
	}
	return 0
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.LoadClient()
	if err != nil {
		return err
	}
	o := a.opts
	if o.server != "" {
		cfg.Server = o.server
	}
	if o.storage != "" {
		cfg.Storage = o.storage
	}
	if o.stateDir != "" {
		cfg.StateDir = o.stateDir
	}
	if o.lang != "" {
		cfg.Lang = o.lang
	}
	if o.pushURL != "" {
		cfg.PushGateway = o.pushURL
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	switch o.output {
	case "text", "json", "yaml":
	default:
		return fmt.Errorf("unknown output format %q (want text, json or yaml)", o.output)
	}
	if o.debug {
		o.logLevel = "debug"
	}

	a.cfg = cfg
	a.out = cmd.OutOrStdout()
	a.errOut = cmd.ErrOrStderr()
	a.logger = logging.NewLoggerWithWriter(logging.ParseLevel(o.logLevel), o.logFormat, a.errOut)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a.storage, err = localstore.Open(ctx, cfg.Storage, cfg.StateDir)
	if err != nil {
		return fmt.Errorf("open session storage: %w", err)
	}
	a.session = session.NewStore(a.storage, a.logger)
	a.session.Init(ctx)

	a.jar, err = apiclient.NewPersistentJar(ctx, a.storage, cfg.Server, a.logger)
	if err != nil {
		return err
	}
	a.client, err = apiclient.New(apiclient.Options{
		BaseURL: cfg.Server,
		Session: a.session,
		Jar:     a.jar,
		Timeout: cfg.Timeout,
		Logger:  a.logger,
		Navigator: apiclient.NavigatorFunc(func(string) {
			fmt.Fprintln(a.errOut, i18n.Text(cfg.Lang, i18n.KeySessionExpired))
		}),
		UserAgent: "afromemo-cli",
	})
	if err != nil {
		return err
	}
	a.manager = submission.NewManager(a.client, a.session, a.now, a.logger)
	return nil
}

func (a *app) close() error {
	a.pushMetrics()
	if c, ok := a.storage.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// pushMetrics sends the client metrics of this run. A failure only warns.
func (a *app) pushMetrics() {
	if a.cfg == nil || a.cfg.PushGateway == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metrics.PushClientMetrics(ctx, a.cfg.PushGateway, "afromemo_cli"); err != nil {
		logging.OrDiscard(a.logger).Warn("push client metrics", "gateway", a.cfg.PushGateway, "error", err)
	}
}

func (a *app) lang() string {
	if a.cfg == nil {
		return i18n.DefaultLang
	}
	return a.cfg.Lang
}

// say prints a localized confirmation in text mode.
func (a *app) say(key string) {
	if a.opts.output == "text" {
		fmt.Fprintln(a.out, i18n.Text(a.lang(), key))
	}
}

func errorMessage(err error, lang string) string {
	msg := submission.UserMessage(err, lang)
	if msg == i18n.Text(lang, i18n.KeyGenericError) || msg == i18n.Text(lang, i18n.KeySubmitFailed) {
		return fmt.Sprintf("%s (%v)", msg, err)
	}
	return msg
}
