package domain

import (
	"fmt"
	"strings"
)

// Stream is the academic stream a quiz is scoped to.
type Stream string

const (
	StreamScience  Stream = "science"
	StreamCommerce Stream = "commerce"
	StreamArts     Stream = "arts"
)

func ParseStream(s string) (Stream, error) {
	switch Stream(strings.ToLower(strings.TrimSpace(s))) {
	case StreamScience:
		return StreamScience, nil
	case StreamCommerce:
		return StreamCommerce, nil
	case StreamArts:
		return StreamArts, nil
	default:
		return "", fmt.Errorf("domain: unknown stream %q", s)
	}
}

// Answer is the option chosen for one question.
type Answer struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Answers is an ordered question -> answer mapping. Question texts are unique.
type Answers []Answer

// Set records answer under question, replacing an earlier answer in place so
// insertion order is kept.
func (a Answers) Set(question, answer string) Answers {
	for i := range a {
		if a[i].Question == question {
			out := a.Clone()
			out[i].Answer = answer
			return out
		}
	}
	return append(a.Clone(), Answer{Question: question, Answer: answer})
}

func (a Answers) Clone() Answers {
	if a == nil {
		return nil
	}
	return append(Answers(nil), a...)
}

// Question is a quiz question awaiting an answer.
type Question struct {
	Text    string   `json:"question"`
	Options []string `json:"options"`
}

func (q Question) HasOption(option string) bool {
	for _, o := range q.Options {
		if o == option {
			return true
		}
	}
	return false
}

func (q Question) Clone() Question {
	q.Options = append([]string(nil), q.Options...)
	return q
}

type StepKind string

const (
	StepQuestion StepKind = "question"
	StepResult   StepKind = "result"
)

// QuizStep is the decision returned by the quiz service: either the next
// question or the final result, never both.
type QuizStep struct {
	Kind     StepKind
	Question Question
	Result   string
}

// Validate rejects steps that do not match their tag.
func (s QuizStep) Validate() error {
	switch s.Kind {
	case StepQuestion:
		if strings.TrimSpace(s.Question.Text) == "" {
			return fmt.Errorf("%w: question step without question text", ErrMalformedResponse)
		}
		if len(s.Question.Options) == 0 {
			return fmt.Errorf("%w: question step without options", ErrMalformedResponse)
		}
		if s.Result != "" {
			return fmt.Errorf("%w: question step carries a result", ErrMalformedResponse)
		}
		return nil
	case StepResult:
		if strings.TrimSpace(s.Result) == "" {
			return fmt.Errorf("%w: result step without result text", ErrMalformedResponse)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown step type %q", ErrMalformedResponse, s.Kind)
	}
}

// QuizRecord is the durable copy of a quiz session. The pending question is
// transient and never stored.
type QuizRecord struct {
	Stream  Stream  `json:"stream"`
	Answers Answers `json:"answers"`
	Result  string  `json:"result,omitempty"`
}
