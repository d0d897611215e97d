package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"unicode/utf8"

	"career-compass/internal/domain"
)

// ChatView is an immutable picture of a chat session for rendering.
type ChatView struct {
	UserID     string        `json:"userId"`
	Turns      []domain.Turn `json:"turns"`
	Busy       bool          `json:"busy"`
	Phase      Phase         `json:"phase"`
	Generation uint64        `json:"generation"`
	Warnings   []string      `json:"warnings,omitempty"`
}

// ChatController owns the transcript of one mentor conversation. It keeps the
// in-memory log authoritative and mirrors it to the store after every
// committed change.
type ChatController struct {
	inference ChatInference
	store     ConversationStore
	opts      options

	mu         sync.Mutex
	userID     string
	ready      bool
	busy       bool
	generation uint64
	log        *TurnLog
	warnings   []string

	// persistMu orders store writes; see persist.
	persistMu sync.Mutex
}

func NewChatController(inference ChatInference, store ConversationStore, opts ...Option) (*ChatController, error) {
	if inference == nil {
		return nil, errors.New("session: chat inference must not be nil")
	}
	if store == nil {
		return nil, errors.New("session: conversation store must not be nil")
	}
	o := newOptions(opts)
	return &ChatController{
		inference: inference,
		store:     store,
		opts:      o,
		log:       NewTurnLog(o.now),
	}, nil
}

// Load reads the durable transcript for userID. A missing record is an empty
// session. Until Load succeeds every Dispatch fails with NOT_READY.
func (c *ChatController) Load(ctx context.Context, userID string) (ChatView, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return c.View(), newError(ErrorInvalidInput, "empty_user_id", nil)
	}

	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return c.View(), newError(ErrorBusy, "load_while_busy", nil)
	}
	c.generation++
	gen := c.generation
	c.ready = false
	c.userID = userID
	c.mu.Unlock()

	readCtx, cancel := context.WithTimeout(ctx, c.opts.storeTimeout)
	turns, found, err := c.store.ReadConversation(readCtx, userID)
	cancel()
	if err != nil {
		c.opts.logger.Error("conversation load failed", "user_id", userID, "err", err)
		return c.View(), newError(ErrorPersistenceFailure, "store_read_error", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return c.viewLocked(), nil
	}
	if found {
		c.log.Restore(turns)
	} else {
		c.log.Clear()
	}
	c.ready = true
	c.warnings = nil
	c.opts.logger.Debug("conversation loaded", "user_id", userID, "turns", c.log.Len(), "found", found)
	return c.viewLocked(), nil
}

// Dispatch applies one action. Chat accepts SendMessage and Reset.
func (c *ChatController) Dispatch(ctx context.Context, action Action) (ChatView, error) {
	switch a := action.(type) {
	case SendMessage:
		return c.sendMessage(ctx, a)
	case Reset:
		return c.reset(ctx)
	case SelectAnswer, Retry:
		return c.View(), newError(ErrorInvalidInput, "unsupported_action", nil)
	default:
		c.opts.logger.Warn("unknown chat action", "action", nameOf(action))
		return c.View(), newError(ErrorInvalidInput, "unknown_action", nil)
	}
}

func (c *ChatController) sendMessage(ctx context.Context, a SendMessage) (ChatView, error) {
	text := strings.TrimSpace(a.Text)
	if text == "" && a.Attachment == nil {
		return c.View(), newError(ErrorInvalidInput, "empty_message", nil)
	}
	if utf8.RuneCountInString(text) > c.opts.maxMessageLength {
		return c.View(), newError(ErrorInvalidInput, "message_too_long", nil)
	}
	if err := a.Attachment.Validate(); err != nil {
		return c.View(), newError(ErrorInvalidInput, "invalid_attachment", err)
	}

	c.mu.Lock()
	if !c.ready {
		c.mu.Unlock()
		return c.View(), newError(ErrorNotReady, "not_loaded", nil)
	}
	if c.busy {
		c.mu.Unlock()
		return c.View(), newError(ErrorBusy, "dispatch_in_flight", nil)
	}
	// Inline bytes go to the mentor once; the transcript keeps only the
	// attachment's metadata.
	c.log.Append(domain.Turn{Role: domain.RoleUser, Content: text, Attachment: a.Attachment.WithoutData()})
	c.busy = true
	c.warnings = nil
	gen := c.generation
	userID := c.userID
	snap := c.log.Snapshot()
	c.mu.Unlock()

	c.persist(ctx, gen, userID, snap)

	callCtx, cancel := context.WithTimeout(ctx, c.opts.inferenceTimeout)
	reply, err := c.inference.Chat(callCtx, userID, text, a.Attachment)
	cancel()
	if err == nil && strings.TrimSpace(reply) == "" {
		err = newError(ErrorMalformedResponse, "chat_empty_reply", domain.ErrMalformedResponse)
	}

	content := reply
	var degraded *Error
	if err != nil {
		degraded = classifyUpstream("chat", err)
		content = c.opts.fallbackReply
		c.opts.logger.Warn("mentor reply failed, using fallback",
			"user_id", userID, "code", degraded.Code, "reason", degraded.Reason, "err", err)
	}

	c.mu.Lock()
	if gen != c.generation {
		view := c.viewLocked()
		c.mu.Unlock()
		c.opts.logger.Info("discarding stale mentor reply", "user_id", userID, "generation", gen)
		return view, nil
	}
	c.log.Append(domain.Turn{Role: domain.RoleAssistant, Content: content})
	c.busy = false
	if degraded != nil {
		c.warnings = append(c.warnings, warnInferenceFailed)
	}
	snap = c.log.Snapshot()
	c.mu.Unlock()

	c.persist(ctx, gen, userID, snap)
	return c.View(), nil
}

// reset is accepted even while a message is in flight; bumping the
// generation makes the in-flight reply stale. The controller stays busy until
// the empty document is stored and the mentor has forgotten the
// conversation, so no new message can land in between and be wiped.
func (c *ChatController) reset(ctx context.Context) (ChatView, error) {
	c.mu.Lock()
	if !c.ready {
		c.mu.Unlock()
		return c.View(), newError(ErrorNotReady, "not_loaded", nil)
	}
	c.generation++
	gen := c.generation
	c.log.Clear()
	c.busy = true
	c.warnings = nil
	userID := c.userID
	c.mu.Unlock()

	c.persist(ctx, gen, userID, []domain.Turn{})

	callCtx, cancel := context.WithTimeout(ctx, c.opts.inferenceTimeout)
	err := c.inference.Clear(callCtx, userID)
	cancel()

	c.mu.Lock()
	if gen == c.generation {
		c.busy = false
		if err != nil {
			c.warnings = append(c.warnings, warnInferenceResetError)
		}
	}
	view := c.viewLocked()
	c.mu.Unlock()
	if err != nil {
		c.opts.logger.Warn("mentor reset failed", "user_id", userID, "err", err)
	}
	return view, nil
}

// persist writes a full snapshot taken under generation gen. Writes are
// serialized, and a snapshot from an older generation is dropped so it can
// never land on top of a reset.
func (c *ChatController) persist(ctx context.Context, gen uint64, userID string, turns []domain.Turn) {
	c.persistMu.Lock()
	defer c.persistMu.Unlock()

	c.mu.Lock()
	current := c.generation
	c.mu.Unlock()
	if current != gen {
		c.opts.logger.Debug("skipping stale conversation write", "user_id", userID, "generation", gen)
		return
	}

	writeCtx, cancel := context.WithTimeout(ctx, c.opts.storeTimeout)
	defer cancel()
	if err := c.store.WriteConversation(writeCtx, userID, turns); err != nil {
		c.opts.logger.Warn("conversation persist failed", "user_id", userID, "turns", len(turns), "err", err)
		c.addWarning(gen, warnPersistFailed)
	}
}

func (c *ChatController) addWarning(gen uint64, w string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen == c.generation {
		c.warnings = append(c.warnings, w)
	}
}

// View returns the current state.
func (c *ChatController) View() ChatView {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked()
}

func (c *ChatController) viewLocked() ChatView {
	phase := PhaseIdle
	switch {
	case !c.ready:
		phase = PhaseLoading
	case c.busy:
		phase = PhaseSending
	}
	return ChatView{
		UserID:     c.userID,
		Turns:      c.log.Snapshot(),
		Busy:       c.busy,
		Phase:      phase,
		Generation: c.generation,
		Warnings:   append([]string(nil), c.warnings...),
	}
}
