package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/dharsanguruparan/ragctl/internal/session"
)

func newRegisterCmd(opts *rootOptions) *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "register <username>",
		Short: "Create an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := openEnv(ctx, opts)
			if err != nil {
				return err
			}
			defer e.Close()

			if password == "" {
				if password, err = promptPassword(cmd.InOrStdin(), cmd.OutOrStdout()); err != nil {
					return err
				}
			}
			msg, err := e.app.Sessions().Register(ctx, args[0], password)
			if err != nil {
				return err
			}
			if msg == "" {
				msg = "Account created"
			}
			color.New(color.FgGreen).Fprintln(cmd.OutOrStdout(), msg)
			return nil
		},
	}
	cmd.Flags().StringVarP(&password, "password", "p", "", "Password (prompted when omitted)")
	return cmd
}

func newLoginCmd(opts *rootOptions) *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "login <username>",
		Short: "Sign in and remember the session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := openEnv(ctx, opts)
			if err != nil {
				return err
			}
			defer e.Close()

			if password == "" {
				if password, err = promptPassword(cmd.InOrStdin(), cmd.OutOrStdout()); err != nil {
					return err
				}
			}
			sess, err := e.app.Login(ctx, args[0], password)
			if err != nil {
				return err
			}
			color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "Logged in as %s\n", sess.Username)
			return nil
		},
	}
	cmd.Flags().StringVarP(&password, "password", "p", "", "Password (prompted when omitted)")
	return cmd
}

func newLogoutCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := openEnv(ctx, opts)
			if err != nil {
				return err
			}
			defer e.Close()

			if err := e.app.Logout(ctx); err != nil {
				return fmt.Errorf("clear stored session: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return nil
		},
	}
}

func newWhoamiCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer e.Close()

			if err := e.requireSession(); err != nil {
				return err
			}
			sess, _ := e.app.Sessions().Current()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s @ %s\n", color.New(color.Bold).Sprint(sess.Username), e.cfg.BaseURL)
			if claims, ok := session.ParseClaims(sess.Token); ok && !claims.ExpiresAt.IsZero() {
				fmt.Fprintf(out, "session expires %s\n", claims.ExpiresAt.Local().Format(time.RFC1123))
			}
			return nil
		},
	}
}

// promptPassword reads the password without echo when in is a terminal and
// falls back to a plain line read for piped input.
func promptPassword(in io.Reader, out io.Writer) (string, error) {
	fmt.Fprint(out, "Password: ")
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		pw, err := term.ReadPassword(int(f.Fd()))
		// ReadPassword swallows the newline the user typed.
		fmt.Fprintln(out)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(pw), nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
