package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"career-compass/internal/domain"
	"career-compass/internal/session"
)

const quizLongDesc string = `Take the adaptive career quiz for one stream.

Answer with the option number. Answers are saved as you go, so an unfinished
quiz continues where it stopped.

Commands:
  reset   start the quiz over
  retry   ask for the next question again after an error
  quit    leave`

func newQuizCmd() *cobra.Command {
	var stream string
	cmd := &cobra.Command{
		Use:   "quiz",
		Short: "Take the career quiz",
		Long:  quizLongDesc,
		RunE: func(cmd *cobra.Command, _ []string) error {
			parsed, err := domain.ParseStream(stream)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			s, err := openSession(ctx, cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			q, err := s.app.Factory.NewQuiz(parsed)
			if err != nil {
				return err
			}
			r := &quizREPL{quiz: q, in: cmd.InOrStdin(), out: cmd.OutOrStdout()}
			return r.run(ctx, s.userID)
		},
	}
	cmd.Flags().StringVarP(&stream, "stream", "s", string(domain.StreamScience), "Quiz stream (science, commerce or arts)")
	return cmd
}

type quizREPL struct {
	quiz *session.QuizController
	in   io.Reader
	out  io.Writer
}

func (r *quizREPL) run(ctx context.Context, userID string) error {
	view, err := r.quiz.Load(ctx, userID)
	if err != nil {
		if view.Phase == session.PhaseLoading {
			return fmt.Errorf("loading quiz: %w", err)
		}
		// The answers loaded but the next question did not; retry recovers.
		printError(r.out, err)
	}
	r.render(view)

	scanner := bufio.NewScanner(r.in)
	for {
		fmt.Fprint(r.out, userPrompt)
		if !scanner.Scan() {
			break
		}
		line := strings.ToLower(strings.TrimSpace(scanner.Text()))
		var action session.Action
		switch line {
		case "":
			continue
		case "quit", "exit":
			return nil
		case "reset":
			action = session.Reset{}
		case "retry":
			action = session.Retry{}
		default:
			answer, ok := r.optionFor(line)
			if !ok {
				printError(r.out, fmt.Errorf("enter an option number, reset, retry or quit"))
				continue
			}
			action = session.SelectAnswer{Answer: answer}
		}

		view, err := r.quiz.Dispatch(ctx, action)
		if err != nil {
			printError(r.out, err)
		}
		r.render(view)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading input: %w", err)
	}
	return nil
}

func (r *quizREPL) optionFor(input string) (string, bool) {
	pending := r.quiz.View().Pending
	if pending == nil {
		return "", false
	}
	n, err := strconv.Atoi(input)
	if err != nil || n < 1 || n > len(pending.Options) {
		return "", false
	}
	return pending.Options[n-1], true
}

func (r *quizREPL) render(view session.QuizView) {
	switch {
	case view.Result != "":
		fmt.Fprintln(r.out, mentorPrompt+view.Result)
		fmt.Fprintln(r.out, dimStyle.Render("  Quiz complete. Type reset to start over or quit to leave."))
	case view.Pending != nil:
		fmt.Fprintf(r.out, "%s%s\n", mentorPrompt, view.Pending.Text)
		for i, o := range view.Pending.Options {
			fmt.Fprintf(r.out, "  %d. %s\n", i+1, o)
		}
	default:
		fmt.Fprintln(r.out, dimStyle.Render("  No question yet. Type retry to ask again."))
	}
	printWarnings(r.out, view.Warnings)
}
