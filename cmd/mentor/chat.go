package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"career-compass/internal/domain"
	"career-compass/internal/session"
)

const chatLongDesc string = `Start an interactive conversation with the mentor.

The stored transcript for --user is shown first and every exchange is saved.

Commands:
  /attach <path>   send a file with the next message (an empty line sends it alone)
  /reset           clear the conversation
  /quit            leave (Ctrl+D works too)`

func newChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Chat with the career mentor",
		Long:  chatLongDesc,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			c, err := s.app.Factory.NewChat()
			if err != nil {
				return err
			}
			r := &chatREPL{chat: c, in: cmd.InOrStdin(), out: cmd.OutOrStdout(), readFile: os.ReadFile}
			return r.run(ctx, s.userID)
		},
	}
}

type chatREPL struct {
	chat     *session.ChatController
	in       io.Reader
	out      io.Writer
	readFile func(string) ([]byte, error)

	staged *domain.Attachment
}

func (r *chatREPL) run(ctx context.Context, userID string) error {
	view, err := r.chat.Load(ctx, userID)
	if err != nil {
		return fmt.Errorf("loading conversation: %w", err)
	}
	if len(view.Turns) == 0 {
		fmt.Fprintln(r.out, dimStyle.Render("  New conversation"))
	}
	for _, t := range view.Turns {
		r.printTurn(t)
	}
	fmt.Fprintln(r.out, dimStyle.Render("  /attach <path>, /reset, /quit"))

	scanner := bufio.NewScanner(r.in)
	for {
		fmt.Fprint(r.out, userPrompt)
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "" && r.staged == nil:
			continue
		case line == "":
			r.send(ctx, "")
		case line == "/quit" || line == "/exit":
			return nil
		case line == "/reset":
			view, err := r.chat.Dispatch(ctx, session.Reset{})
			r.staged = nil
			if err != nil {
				printError(r.out, err)
				continue
			}
			fmt.Fprintln(r.out, dimStyle.Render("  Conversation cleared"))
			printWarnings(r.out, view.Warnings)
		case strings.HasPrefix(line, "/attach"):
			path := strings.TrimSpace(strings.TrimPrefix(line, "/attach"))
			if err := r.stage(path); err != nil {
				printError(r.out, err)
				continue
			}
			fmt.Fprintln(r.out, dimStyle.Render("  Attached "+r.staged.Name))
		default:
			r.send(ctx, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading input: %w", err)
	}
	return nil
}

func (r *chatREPL) stage(path string) error {
	if path == "" {
		return fmt.Errorf("usage: /attach <path>")
	}
	data, err := r.readFile(path)
	if err != nil {
		return fmt.Errorf("reading attachment: %w", err)
	}
	mediaType := mime.TypeByExtension(filepath.Ext(path))
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}
	r.staged = &domain.Attachment{Name: filepath.Base(path), MediaType: mediaType, Data: data}
	return nil
}

func (r *chatREPL) send(ctx context.Context, text string) {
	view, err := r.chat.Dispatch(ctx, session.SendMessage{Text: text, Attachment: r.staged})
	if err != nil {
		printError(r.out, err)
		return
	}
	r.staged = nil
	if n := len(view.Turns); n > 0 && view.Turns[n-1].Role == domain.RoleAssistant {
		r.printTurn(view.Turns[n-1])
	}
	printWarnings(r.out, view.Warnings)
}

func (r *chatREPL) printTurn(t domain.Turn) {
	prompt := userPrompt
	if t.Role == domain.RoleAssistant {
		prompt = mentorPrompt
	}
	content := t.Content
	if t.Attachment != nil {
		content = strings.TrimSpace(content + " [" + t.Attachment.Name + "]")
	}
	fmt.Fprintln(r.out, prompt+content)
}
