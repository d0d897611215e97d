package session

import (
	"context"
	"errors"
	"strings"
	"sync"

	"career-compass/internal/domain"
)

// QuizView is an immutable picture of a quiz session. At most one of Pending
// and Result is set.
type QuizView struct {
	UserID     string           `json:"userId"`
	Stream     domain.Stream    `json:"stream"`
	Answers    domain.Answers   `json:"answers"`
	Pending    *domain.Question `json:"pending,omitempty"`
	Result     string           `json:"result,omitempty"`
	Busy       bool             `json:"busy"`
	Phase      Phase            `json:"phase"`
	Generation uint64           `json:"generation"`
	Warnings   []string         `json:"warnings,omitempty"`
}

// QuizController drives the server-decided adaptive quiz for one stream.
// Only committed answers and the final result are persisted; the pending
// question comes from the service on Load or from the caller on Resume.
type QuizController struct {
	inference QuizInference
	store     QuizStore
	stream    domain.Stream
	opts      options

	mu         sync.Mutex
	userID     string
	ready      bool
	busy       bool
	generation uint64
	answers    domain.Answers
	pending    *domain.Question
	result     string
	warnings   []string

	persistMu sync.Mutex
}

func NewQuizController(inference QuizInference, store QuizStore, stream domain.Stream, opts ...Option) (*QuizController, error) {
	if inference == nil {
		return nil, errors.New("session: quiz inference must not be nil")
	}
	if store == nil {
		return nil, errors.New("session: quiz store must not be nil")
	}
	parsed, err := domain.ParseStream(string(stream))
	if err != nil {
		return nil, err
	}
	return &QuizController{
		inference: inference,
		store:     store,
		stream:    parsed,
		opts:      newOptions(opts),
	}, nil
}

// Load restores the stored answers for userID and, unless the quiz is already
// finished, asks the service for the next question. If that request fails the
// controller is still ready; the error is transient and Retry recovers.
func (q *QuizController) Load(ctx context.Context, userID string) (QuizView, error) {
	gen, err := q.readRecord(ctx, userID)
	if err != nil {
		return q.View(), err
	}

	q.mu.Lock()
	if gen != q.generation || q.result != "" {
		view := q.viewLocked()
		q.mu.Unlock()
		return view, nil
	}
	q.busy = true
	answers := q.answers.Clone()
	q.mu.Unlock()

	return q.fetchStep(ctx, gen, answers)
}

// Resume restores the stored answers like Load but takes the pending question
// from the caller instead of asking the service. Stateless front ends use it
// to answer the question they actually displayed. A nil pending leaves the
// quiz ready with nothing pending, the state Retry and Reset start from.
func (q *QuizController) Resume(ctx context.Context, userID string, pending *domain.Question) (QuizView, error) {
	if pending != nil {
		step := domain.QuizStep{Kind: domain.StepQuestion, Question: *pending}
		if err := step.Validate(); err != nil {
			return q.View(), newError(ErrorInvalidInput, "invalid_pending_question", err)
		}
	}
	gen, err := q.readRecord(ctx, userID)
	if err != nil {
		return q.View(), err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if gen == q.generation && q.result == "" && pending != nil {
		p := pending.Clone()
		q.pending = &p
	}
	return q.viewLocked(), nil
}

// readRecord loads the durable record for userID into the controller and
// marks it ready. It returns the generation the load ran under.
func (q *QuizController) readRecord(ctx context.Context, userID string) (uint64, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return 0, newError(ErrorInvalidInput, "empty_user_id", nil)
	}

	q.mu.Lock()
	if q.busy {
		q.mu.Unlock()
		return 0, newError(ErrorBusy, "load_while_busy", nil)
	}
	q.generation++
	gen := q.generation
	q.ready = false
	q.userID = userID
	q.mu.Unlock()

	readCtx, cancel := context.WithTimeout(ctx, q.opts.storeTimeout)
	rec, found, err := q.store.ReadQuiz(readCtx, userID, q.stream)
	cancel()
	if err != nil {
		q.opts.logger.Error("quiz load failed", "user_id", userID, "stream", q.stream, "err", err)
		return 0, newError(ErrorPersistenceFailure, "store_read_error", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if gen != q.generation {
		return gen, nil
	}
	q.answers = nil
	q.result = ""
	if found {
		q.answers = rec.Answers.Clone()
		q.result = rec.Result
	}
	q.pending = nil
	q.ready = true
	q.warnings = nil
	q.opts.logger.Debug("quiz loaded", "user_id", userID, "stream", q.stream, "answers", len(q.answers), "finished", q.result != "")
	return gen, nil
}

// Dispatch applies one action. The quiz accepts SelectAnswer, Reset and
// Retry.
func (q *QuizController) Dispatch(ctx context.Context, action Action) (QuizView, error) {
	switch a := action.(type) {
	case SelectAnswer:
		return q.selectAnswer(ctx, a)
	case Reset:
		return q.reset(ctx)
	case Retry:
		return q.retry(ctx)
	case SendMessage:
		return q.View(), newError(ErrorInvalidInput, "unsupported_action", nil)
	default:
		q.opts.logger.Warn("unknown quiz action", "action", nameOf(action))
		return q.View(), newError(ErrorInvalidInput, "unknown_action", nil)
	}
}

func (q *QuizController) selectAnswer(ctx context.Context, a SelectAnswer) (QuizView, error) {
	answer := strings.TrimSpace(a.Answer)
	if answer == "" {
		return q.View(), newError(ErrorInvalidInput, "empty_answer", nil)
	}

	q.mu.Lock()
	if err := q.checkActionableLocked(); err != nil {
		q.mu.Unlock()
		return q.View(), err
	}
	if q.pending == nil {
		q.mu.Unlock()
		return q.View(), newError(ErrorInvalidInput, "no_pending_question", nil)
	}
	if !q.pending.HasOption(answer) {
		q.mu.Unlock()
		return q.View(), newError(ErrorInvalidInput, "unknown_option", nil)
	}
	question := q.pending.Clone()
	previous := q.answers
	q.answers = q.answers.Set(question.Text, answer)
	q.pending = nil
	q.busy = true
	q.warnings = nil
	gen := q.generation
	answers := q.answers.Clone()
	q.mu.Unlock()

	step, err := q.requestStep(ctx, answers)

	q.mu.Lock()
	if gen != q.generation {
		view := q.viewLocked()
		q.mu.Unlock()
		q.opts.logger.Info("discarding stale quiz step", "user_id", view.UserID, "generation", gen)
		return view, nil
	}
	q.busy = false
	if err != nil {
		// Leave the quiz where it was so the same question can be answered again.
		q.answers = previous
		q.pending = &question
		view := q.viewLocked()
		q.mu.Unlock()
		return view, q.logStepFailure(err)
	}
	q.applyStepLocked(step)
	rec := q.recordLocked()
	userID := q.userID
	q.mu.Unlock()

	q.persist(ctx, gen, userID, rec)
	return q.View(), nil
}

func (q *QuizController) reset(ctx context.Context) (QuizView, error) {
	q.mu.Lock()
	if !q.ready {
		q.mu.Unlock()
		return q.View(), newError(ErrorNotReady, "not_loaded", nil)
	}
	q.generation++
	gen := q.generation
	q.answers = nil
	q.pending = nil
	q.result = ""
	q.busy = true
	q.warnings = nil
	userID := q.userID
	rec := q.recordLocked()
	q.mu.Unlock()

	q.persist(ctx, gen, userID, rec)
	return q.fetchStep(ctx, gen, nil)
}

func (q *QuizController) retry(ctx context.Context) (QuizView, error) {
	q.mu.Lock()
	if err := q.checkActionableLocked(); err != nil {
		q.mu.Unlock()
		return q.View(), err
	}
	if q.pending != nil {
		q.mu.Unlock()
		return q.View(), newError(ErrorInvalidInput, "nothing_to_retry", nil)
	}
	q.busy = true
	q.warnings = nil
	gen := q.generation
	answers := q.answers.Clone()
	q.mu.Unlock()

	return q.fetchStep(ctx, gen, answers)
}

// fetchStep requests the step for answers on behalf of Load, Reset or Retry.
// The caller has already set busy under generation gen.
func (q *QuizController) fetchStep(ctx context.Context, gen uint64, answers domain.Answers) (QuizView, error) {
	step, err := q.requestStep(ctx, answers)

	q.mu.Lock()
	if gen != q.generation {
		view := q.viewLocked()
		q.mu.Unlock()
		q.opts.logger.Info("discarding stale quiz step", "user_id", view.UserID, "generation", gen)
		return view, nil
	}
	q.busy = false
	if err != nil {
		view := q.viewLocked()
		q.mu.Unlock()
		return view, q.logStepFailure(err)
	}
	q.applyStepLocked(step)
	finished := step.Kind == domain.StepResult
	rec := q.recordLocked()
	userID := q.userID
	q.mu.Unlock()

	if finished {
		q.persist(ctx, gen, userID, rec)
	}
	return q.View(), nil
}

func (q *QuizController) requestStep(ctx context.Context, answers domain.Answers) (domain.QuizStep, error) {
	callCtx, cancel := context.WithTimeout(ctx, q.opts.inferenceTimeout)
	defer cancel()
	step, err := q.inference.NextStep(callCtx, q.stream, answers)
	if err != nil {
		return domain.QuizStep{}, err
	}
	if err := step.Validate(); err != nil {
		return domain.QuizStep{}, err
	}
	return step, nil
}

func (q *QuizController) logStepFailure(err error) *Error {
	classified := classifyUpstream("quiz", err)
	q.opts.logger.Warn("quiz step failed",
		"stream", q.stream, "code", classified.Code, "reason", classified.Reason, "err", err)
	return classified
}

func (q *QuizController) checkActionableLocked() *Error {
	switch {
	case !q.ready:
		return newError(ErrorNotReady, "not_loaded", nil)
	case q.busy:
		return newError(ErrorBusy, "dispatch_in_flight", nil)
	case q.result != "":
		return newError(ErrorInvalidInput, "quiz_finished", nil)
	}
	return nil
}

func (q *QuizController) applyStepLocked(step domain.QuizStep) {
	switch step.Kind {
	case domain.StepQuestion:
		next := step.Question.Clone()
		q.pending = &next
		q.result = ""
	case domain.StepResult:
		q.pending = nil
		q.result = step.Result
	}
}

func (q *QuizController) recordLocked() domain.QuizRecord {
	return domain.QuizRecord{
		Stream:  q.stream,
		Answers: q.answers.Clone(),
		Result:  q.result,
	}
}

func (q *QuizController) persist(ctx context.Context, gen uint64, userID string, rec domain.QuizRecord) {
	q.persistMu.Lock()
	defer q.persistMu.Unlock()

	q.mu.Lock()
	current := q.generation
	q.mu.Unlock()
	if current != gen {
		q.opts.logger.Debug("skipping stale quiz write", "user_id", userID, "generation", gen)
		return
	}

	writeCtx, cancel := context.WithTimeout(ctx, q.opts.storeTimeout)
	defer cancel()
	if err := q.store.WriteQuiz(writeCtx, userID, rec); err != nil {
		q.opts.logger.Warn("quiz persist failed", "user_id", userID, "stream", q.stream, "err", err)
		q.mu.Lock()
		if gen == q.generation {
			q.warnings = append(q.warnings, warnPersistFailed)
		}
		q.mu.Unlock()
	}
}

func (q *QuizController) View() QuizView {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.viewLocked()
}

func (q *QuizController) viewLocked() QuizView {
	phase := PhaseAwaitingAnswer
	switch {
	case !q.ready:
		phase = PhaseLoading
	case q.busy:
		phase = PhaseSubmitting
	case q.result != "":
		phase = PhaseFinished
	}
	var pending *domain.Question
	if q.pending != nil {
		p := q.pending.Clone()
		pending = &p
	}
	return QuizView{
		UserID:     q.userID,
		Stream:     q.stream,
		Answers:    q.answers.Clone(),
		Pending:    pending,
		Result:     q.result,
		Busy:       q.busy,
		Phase:      phase,
		Generation: q.generation,
		Warnings:   append([]string(nil), q.warnings...),
	}
}
