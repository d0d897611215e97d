package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"career-compass/internal/domain"
	"career-compass/internal/session"
)

const correlationHeader = "X-Correlation-Id"

// SessionFactory builds one controller per request; the store carries the
// session between invocations.
type SessionFactory interface {
	NewChat() (*session.ChatController, error)
	NewQuiz(stream domain.Stream) (*session.QuizController, error)
}

type Handler struct {
	factory SessionFactory
	log     *slog.Logger
}

func NewHandler(factory SessionFactory, log *slog.Logger) (*Handler, error) {
	if factory == nil {
		return nil, errors.New("handler: session factory must not be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Handler{factory: factory, log: log}, nil
}

type chatRequest struct {
	UserID     string             `json:"userId"`
	Message    string             `json:"message"`
	Attachment *domain.Attachment `json:"attachment,omitempty"`
}

// quizRequest carries the question the client displayed along with an
// answer, so the answer is checked against what the user actually saw.
type quizRequest struct {
	UserID   string   `json:"userId"`
	Stream   string   `json:"stream"`
	Question string   `json:"question,omitempty"`
	Options  []string `json:"options,omitempty"`
	Answer   string   `json:"answer,omitempty"`
}

type errorResponse struct {
	Error         string `json:"error"`
	Reason        string `json:"reason,omitempty"`
	CorrelationID string `json:"correlationId"`
	View          any    `json:"view,omitempty"`
}

// Handle routes an API Gateway proxy request to the chat or quiz controller.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	corrID := correlationID(req.Headers)
	log := h.log.With("correlation_id", corrID, "method", req.HTTPMethod, "path", req.Path)

	body, err := requestBody(req)
	if err != nil {
		return errorJSON(http.StatusBadRequest, corrID, string(session.ErrorInvalidInput), "invalid_body_encoding", nil), nil
	}

	route := req.HTTPMethod + " " + strings.TrimRight(req.Path, "/")
	var (
		view   any
		callEr error
	)
	switch route {
	case "GET /chat":
		view, callEr = h.chat(ctx, req.QueryStringParameters["userId"], nil)
	case "POST /chat":
		var in chatRequest
		if err := json.Unmarshal(body, &in); err != nil {
			return errorJSON(http.StatusBadRequest, corrID, string(session.ErrorInvalidInput), "invalid_json", nil), nil
		}
		view, callEr = h.chat(ctx, in.UserID, session.SendMessage{Text: in.Message, Attachment: in.Attachment})
	case "POST /chat/reset":
		var in chatRequest
		if err := json.Unmarshal(body, &in); err != nil {
			return errorJSON(http.StatusBadRequest, corrID, string(session.ErrorInvalidInput), "invalid_json", nil), nil
		}
		view, callEr = h.chat(ctx, in.UserID, session.Reset{})
	case "GET /quiz":
		q := req.QueryStringParameters
		view, callEr = h.quiz(ctx, q["userId"], q["stream"], nil, nil)
	case "POST /quiz/answer", "POST /quiz/reset", "POST /quiz/retry":
		var in quizRequest
		if err := json.Unmarshal(body, &in); err != nil {
			return errorJSON(http.StatusBadRequest, corrID, string(session.ErrorInvalidInput), "invalid_json", nil), nil
		}
		var pending *domain.Question
		if route == "POST /quiz/answer" {
			pending = &domain.Question{Text: in.Question, Options: in.Options}
		}
		view, callEr = h.quiz(ctx, in.UserID, in.Stream, quizAction(route, in), pending)
	default:
		log.Info("route not found")
		return errorJSON(http.StatusNotFound, corrID, "NOT_FOUND", "unknown_route", nil), nil
	}

	if callEr != nil {
		status, code, reason := mapError(callEr)
		if status >= http.StatusInternalServerError {
			log.Error("request failed", "code", code, "reason", reason, "err", callEr)
		} else {
			log.Warn("request rejected", "code", code, "reason", reason)
		}
		return errorJSON(status, corrID, code, reason, view), nil
	}
	return okJSON(http.StatusOK, corrID, view), nil
}

func quizAction(route string, in quizRequest) session.Action {
	switch route {
	case "POST /quiz/answer":
		return session.SelectAnswer{Answer: in.Answer}
	case "POST /quiz/reset":
		return session.Reset{}
	default:
		return session.Retry{}
	}
}

// chat loads the user's conversation and applies action when it is not nil.
func (h *Handler) chat(ctx context.Context, userID string, action session.Action) (any, error) {
	c, err := h.factory.NewChat()
	if err != nil {
		return nil, err
	}
	view, err := c.Load(ctx, userID)
	if err != nil || action == nil {
		return view, err
	}
	return c.Dispatch(ctx, action)
}

// quiz with a nil action is a plain load. Otherwise the stored answers are
// resumed with pending as the question on screen and action is applied.
func (h *Handler) quiz(ctx context.Context, userID, streamName string, action session.Action, pending *domain.Question) (any, error) {
	stream, err := domain.ParseStream(streamName)
	if err != nil {
		return nil, &session.Error{Code: session.ErrorInvalidInput, Reason: "unknown_stream", Err: err}
	}
	q, err := h.factory.NewQuiz(stream)
	if err != nil {
		return nil, err
	}
	if action == nil {
		return q.Load(ctx, userID)
	}
	view, err := q.Resume(ctx, userID, pending)
	if err != nil {
		return view, err
	}
	return q.Dispatch(ctx, action)
}

func mapError(err error) (int, string, string) {
	var sessErr *session.Error
	if !errors.As(err, &sessErr) {
		return http.StatusInternalServerError, "INTERNAL", "internal_error"
	}
	code := string(sessErr.Code)
	switch sessErr.Code {
	case session.ErrorInvalidInput:
		return http.StatusBadRequest, code, sessErr.Reason
	case session.ErrorNotReady, session.ErrorBusy:
		return http.StatusConflict, code, sessErr.Reason
	case session.ErrorNetworkFailure:
		if sessErr.Reason == "rate_limited" {
			return http.StatusTooManyRequests, code, sessErr.Reason
		}
		return http.StatusBadGateway, code, sessErr.Reason
	case session.ErrorMalformedResponse:
		return http.StatusBadGateway, code, sessErr.Reason
	case session.ErrorPersistenceFailure:
		return http.StatusServiceUnavailable, code, sessErr.Reason
	default:
		return http.StatusInternalServerError, code, sessErr.Reason
	}
}

func requestBody(req events.APIGatewayProxyRequest) ([]byte, error) {
	if req.Body == "" {
		return []byte("{}"), nil
	}
	if req.IsBase64Encoded {
		return base64.StdEncoding.DecodeString(req.Body)
	}
	return []byte(req.Body), nil
}

func correlationID(headers map[string]string) string {
	for k, v := range headers {
		if strings.EqualFold(k, correlationHeader) && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return uuid.NewString()
}

func okJSON(status int, corrID string, v any) events.APIGatewayProxyResponse {
	body, err := json.Marshal(v)
	if err != nil {
		return errorJSON(http.StatusInternalServerError, corrID, "INTERNAL", "encode_response", nil)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: corrID,
		},
		Body: string(body),
	}
}

func errorJSON(status int, corrID, code, reason string, view any) events.APIGatewayProxyResponse {
	body, _ := json.Marshal(errorResponse{Error: code, Reason: reason, CorrelationID: corrID, View: view})
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: corrID,
		},
		Body: string(body),
	}
}
