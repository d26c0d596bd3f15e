package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"

	"github.com/afromemo/afromemo/internal/apiclient"
	"github.com/afromemo/afromemo/internal/session"
)

func newLoginCmd(a *app) *cobra.Command {
	var username, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in as an administrator",
		Long:  "Exchange a username and password for a session. The password is read from stdin when omitted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				fmt.Fprint(a.errOut, "Password: ")
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && !errors.Is(err, io.EOF) {
					return fmt.Errorf("read password: %w", err)
				}
				password = strings.TrimRight(line, "\r\n")
			}
			if strings.TrimSpace(username) == "" || password == "" {
				return errors.New("username and password are required")
			}

			sess, err := a.client.SignIn(cmd.Context(), apiclient.Credentials{Username: username, Password: password})
			if err != nil {
				if apiclient.IsStatus(err, http.StatusUnauthorized) {
					return errors.New("invalid credentials")
				}
				return err
			}
			return a.render(sess.User, func(w io.Writer) {
				fmt.Fprintf(w, "Logged in as %s", sess.User.Name)
				if sess.User.IsAdmin() {
					fmt.Fprint(w, " (administrator)")
				}
				fmt.Fprintln(w)
			})
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", os.Getenv("AFROMEMO_USERNAME"), "Account name (or AFROMEMO_USERNAME env)")
	cmd.Flags().StringVarP(&password, "password", "p", "", "Password (prompted if omitted)")
	return cmd
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			// The local session is dropped even when the server is unreachable.
			if err := a.client.Logout(ctx); err != nil {
				a.logger.Warn("server logout failed", "error", err)
			}
			if err := a.session.Logout(ctx); err != nil {
				return err
			}
			if err := a.jar.Clear(ctx); err != nil {
				return err
			}
			if a.opts.output == "text" {
				fmt.Fprintln(a.out, "Logged out")
			}
			return nil
		},
	}
}

type whoami struct {
	User          session.User `json:"user" yaml:"user"`
	Authenticated bool         `json:"authenticated" yaml:"authenticated"`
	Admin         bool         `json:"admin" yaml:"admin"`
	Expires       *time.Time   `json:"expires,omitempty" yaml:"expires,omitempty"`
}

func newWhoamiCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the current session",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, ok := a.session.Current()
			if !ok {
				return a.render(whoami{}, func(w io.Writer) {
					fmt.Fprintln(w, "Not logged in")
				})
			}
			info := whoami{User: sess.User, Authenticated: true, Admin: sess.User.IsAdmin()}
			if exp, ok := tokenExpiry(sess.Token); ok {
				info.Expires = &exp
			}
			return a.render(info, func(w io.Writer) {
				fmt.Fprintf(w, "%-8s %s\n", "User:", sess.User.Name)
				if sess.User.Email != "" {
					fmt.Fprintf(w, "%-8s %s\n", "Email:", sess.User.Email)
				}
				fmt.Fprintf(w, "%-8s %s\n", "Roles:", strings.Join(sess.User.Roles(), ", "))
				if info.Expires != nil {
					state := "valid"
					if a.now().After(*info.Expires) {
						state = "expired, renewed on next request"
					}
					fmt.Fprintf(w, "%-8s %s (%s)\n", "Token:", info.Expires.Local().Format(time.RFC3339), state)
				}
			})
		},
	}
}

// tokenExpiry reads the exp claim without verifying the signature; the client
// never holds the signing key.
func tokenExpiry(token string) (time.Time, bool) {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil || claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}
