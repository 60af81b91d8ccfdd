package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dharsanguruparan/ragctl/internal/model"
	"github.com/dharsanguruparan/ragctl/internal/upload"
)

const replHelp = `Commands:
  /upload <path>       upload a PDF and switch to chat
  /panel upload|chat   switch panels
  /reset               clear the upload result and the conversation
  /history             print the conversation
  /logout              sign out and leave
  /quit                leave
In the upload panel a plain line is a path to upload; in the chat panel it is a question.`

func newChatCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "chat [file.pdf]",
		Short: "Interactive session: upload a PDF and ask questions about it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := openEnv(ctx, opts)
			if err != nil {
				return err
			}
			defer e.Close()
			if err := e.requireSession(); err != nil {
				return err
			}

			stop, err := startRenderer(ctx, e, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer stop()

			r := &repl{env: e, out: cmd.OutOrStdout()}
			r.greet()
			if len(args) == 1 {
				r.upload(ctx, args[0])
			}
			return r.run(ctx, cmd.InOrStdin())
		},
	}
}

type repl struct {
	env *env
	out io.Writer
}

func (r *repl) greet() {
	sess, _ := r.env.app.Sessions().Current()
	fmt.Fprintf(r.out, "Signed in as %s. Type /help for commands.\n", sess.Username)
	for _, msg := range r.env.app.Chat().Transcript() {
		r.printMessage(msg)
	}
}

func (r *repl) run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		r.prompt()
		select {
		case <-ctx.Done():
			fmt.Fprintln(r.out)
			return nil
		case line, ok := <-lines:
			if !ok {
				fmt.Fprintln(r.out)
				return nil
			}
			if r.handle(ctx, strings.TrimSpace(line)) {
				return nil
			}
		}
	}
}

func (r *repl) prompt() {
	c := color.New(color.FgHiBlack)
	if r.env.app.ActivePanel() == model.PanelChat {
		c = color.New(color.FgBlue)
	}
	c.Fprintf(r.out, "%s> ", r.env.app.ActivePanel())
}

// handle runs one input line and reports whether the session should end.
func (r *repl) handle(ctx context.Context, line string) bool {
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		if r.env.app.ActivePanel() == model.PanelUpload {
			r.upload(ctx, line)
		} else {
			r.ask(ctx, line)
		}
		return false
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true
	case "/help":
		fmt.Fprintln(r.out, replHelp)
	case "/upload":
		if len(fields) < 2 {
			r.fail(errors.New("usage: /upload <path>"))
			return false
		}
		r.upload(ctx, strings.TrimSpace(strings.TrimPrefix(line, fields[0])))
	case "/panel":
		if len(fields) != 2 {
			r.fail(errors.New("usage: /panel upload|chat"))
			return false
		}
		if err := r.env.app.ShowPanel(model.Panel(fields[1])); err != nil {
			r.fail(err)
		}
	case "/reset":
		r.env.app.Uploads().Reset()
		r.env.app.Chat().Reset()
		fmt.Fprintln(r.out, "Cleared.")
	case "/history":
		for _, msg := range r.env.app.Chat().Transcript() {
			r.printMessage(msg)
		}
	case "/logout":
		if err := r.env.app.Logout(ctx); err != nil {
			r.fail(err)
		}
		return true
	default:
		r.fail(fmt.Errorf("unknown command %s (try /help)", fields[0]))
	}
	return false
}

func (r *repl) upload(ctx context.Context, path string) {
	f, err := upload.OpenLocal(path)
	if err != nil {
		r.fail(err)
		return
	}
	if err := r.env.app.Upload(ctx, f, upload.SourcePicker); err != nil {
		var upErr *upload.Error
		if !errors.As(err, &upErr) {
			r.fail(err)
		}
	}
}

func (r *repl) ask(ctx context.Context, question string) {
	chats := r.env.app.Chat()
	before := len(chats.Transcript())
	if _, ok := chats.DocumentID(); ok {
		color.New(color.FgHiBlack).Fprintln(r.out, "thinking...")
	}
	if err := chats.Ask(ctx, question); err != nil {
		r.fail(err)
		return
	}
	msgs := chats.Transcript()
	for _, msg := range msgs[min(before, len(msgs)):] {
		if msg.Role == model.RoleAssistant {
			r.printMessage(msg)
		}
	}
}

func (r *repl) printMessage(msg model.Message) {
	ts := msg.Timestamp.Local().Format("15:04")
	if msg.Role == model.RoleAssistant {
		fmt.Fprintf(r.out, "%s %s %s\n", color.HiBlackString(ts), color.CyanString("assistant:"), msg.Content)
		return
	}
	fmt.Fprintf(r.out, "%s %s %s\n", color.HiBlackString(ts), color.GreenString("you:"), msg.Content)
}

func (r *repl) fail(err error) {
	color.New(color.FgRed).Fprintln(r.out, err.Error())
}
