package mentor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"sync"
	"time"

	"career-compass/internal/domain"
)

// chatRequest is the JSON body accepted by the /chat endpoint.
type chatRequest struct {
	UserID        string `json:"user_id"`
	Message       string `json:"message"`
	AttachmentURL string `json:"attachment_url,omitempty"`
}

// chatResponse is returned by /chat on success ({response}) and failure ({error}).
type chatResponse struct {
	Response string `json:"response"`
	Error    string `json:"error"`
}

type clearRequest struct {
	UserID string `json:"user_id"`
}

// quizResponse is the tagged step returned by /quiz. Pointers distinguish a
// missing field from an empty one.
type quizResponse struct {
	Type     *string  `json:"type"`
	Question *string  `json:"question"`
	Options  []string `json:"options"`
	Result   *string  `json:"result"`
	Error    string   `json:"error"`
}

// tokenPayload is the expected JSON shape stored in SSM for the API token.
type tokenPayload struct {
	Token string `json:"token"`
}

type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("mentor: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client talks to the career mentor backend: conversational chat, history
// clearing and the adaptive stream quiz.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	getter      Getter
	paramPrefix string

	tokenMu sync.Mutex
	token   string
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTokenSource makes every request carry a bearer token read from
// <prefix>/mentor-api-token in Parameter Store.
func WithTokenSource(getter Getter, paramPrefix string) Option {
	return func(c *Client) {
		c.getter = getter
		c.paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	}
}

func NewClient(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("mentor: base URL must not be empty")
	}
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		return nil, fmt.Errorf("mentor: base URL %q must be http or https", baseURL)
	}
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.getter != nil && c.paramPrefix == "" {
		return nil, errors.New("mentor: parameter prefix must not be empty")
	}
	return c, nil
}

// resolveToken fetches the token on first use. Failures are not cached so a
// later call can recover once the parameter exists.
func (c *Client) resolveToken(ctx context.Context) (string, error) {
	if c.getter == nil {
		return "", nil
	}
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	if c.token != "" {
		return c.token, nil
	}
	token, err := fetchTokenFromParamStore(ctx, c.getter, c.tokenParameterName())
	if err != nil {
		return "", err
	}
	c.token = token
	return token, nil
}

func (c *Client) tokenParameterName() string {
	return c.paramPrefix + "/mentor-api-token"
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: 60 * time.Second}
}

func (c *Client) endpoint(path string) string {
	return c.baseURL + path
}

// Chat sends one user message and returns the mentor's reply. An inline
// attachment is uploaded as multipart form data; a locator-only attachment is
// passed by reference.
func (c *Client) Chat(ctx context.Context, userID, message string, attachment *domain.Attachment) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", errors.New("mentor: user id must not be empty")
	}

	var (
		body        io.Reader
		contentType string
	)
	if attachment.Inline() {
		buf, ct, err := multipartChatBody(userID, message, attachment)
		if err != nil {
			return "", err
		}
		body, contentType = buf, ct
	} else {
		in := chatRequest{UserID: userID, Message: message}
		if attachment != nil {
			in.AttachmentURL = attachment.Locator
		}
		raw, err := json.Marshal(in)
		if err != nil {
			return "", fmt.Errorf("mentor: marshal chat request: %w", err)
		}
		body, contentType = bytes.NewReader(raw), "application/json"
	}

	url := c.endpoint("/chat")
	raw, err := c.post(ctx, url, contentType, body)
	if err != nil {
		return "", fmt.Errorf("mentor: chat request failed: %w", err)
	}

	var payload chatResponse
	if decErr := json.Unmarshal(raw, &payload); decErr != nil {
		return "", fmt.Errorf("mentor: decode chat response: %w: %v", domain.ErrMalformedResponse, decErr)
	}
	if payload.Error != "" {
		return "", fmt.Errorf("mentor: chat error: %s", payload.Error)
	}
	reply := strings.TrimSpace(payload.Response)
	if reply == "" {
		return "", fmt.Errorf("mentor: %w: empty chat response", domain.ErrMalformedResponse)
	}
	return reply, nil
}

func multipartChatBody(userID, message string, a *domain.Attachment) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	if err := w.WriteField("user_id", userID); err != nil {
		return nil, "", fmt.Errorf("mentor: write form field: %w", err)
	}
	if message != "" {
		if err := w.WriteField("message", message); err != nil {
			return nil, "", fmt.Errorf("mentor: write form field: %w", err)
		}
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, a.Name))
	mediaType := a.MediaType
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}
	h.Set("Content-Type", mediaType)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("mentor: create file part: %w", err)
	}
	if _, err := part.Write(a.Data); err != nil {
		return nil, "", fmt.Errorf("mentor: write file part: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("mentor: close multipart body: %w", err)
	}
	return buf, w.FormDataContentType(), nil
}

// Clear drops the backend's copy of the user's conversation.
func (c *Client) Clear(ctx context.Context, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return errors.New("mentor: user id must not be empty")
	}
	raw, err := json.Marshal(clearRequest{UserID: userID})
	if err != nil {
		return fmt.Errorf("mentor: marshal clear request: %w", err)
	}
	if _, err := c.post(ctx, c.endpoint("/clear"), "application/json", bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("mentor: clear request failed: %w", err)
	}
	return nil
}

// NextStep asks the quiz service what follows the given answers. An empty
// answer set yields the opening question for the stream.
func (c *Client) NextStep(ctx context.Context, stream domain.Stream, answers domain.Answers) (domain.QuizStep, error) {
	body, err := quizRequestBody(stream, answers)
	if err != nil {
		return domain.QuizStep{}, err
	}

	raw, err := c.post(ctx, c.endpoint("/quiz"), "application/json", bytes.NewReader(body))
	if err != nil {
		return domain.QuizStep{}, fmt.Errorf("mentor: quiz request failed: %w", err)
	}

	step, err := parseQuizStep(raw)
	if err != nil {
		return domain.QuizStep{}, fmt.Errorf("mentor: %w", err)
	}
	return step, nil
}

// quizRequestBody encodes {"stream": ..., "answers": {...}} with answers as a
// JSON object in answer order. encoding/json sorts map keys, so the object is
// written by hand.
func quizRequestBody(stream domain.Stream, answers domain.Answers) ([]byte, error) {
	var buf bytes.Buffer
	streamJSON, err := json.Marshal(string(stream))
	if err != nil {
		return nil, fmt.Errorf("mentor: marshal stream: %w", err)
	}
	buf.WriteString(`{"stream":`)
	buf.Write(streamJSON)
	buf.WriteString(`,"answers":{`)
	for i, a := range answers {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(a.Question)
		if err != nil {
			return nil, fmt.Errorf("mentor: marshal question: %w", err)
		}
		v, err := json.Marshal(a.Answer)
		if err != nil {
			return nil, fmt.Errorf("mentor: marshal answer: %w", err)
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteString(`}}`)
	return buf.Bytes(), nil
}

func parseQuizStep(raw []byte) (domain.QuizStep, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	var payload quizResponse
	if err := dec.Decode(&payload); err != nil {
		return domain.QuizStep{}, fmt.Errorf("%w: decode quiz step: %v", domain.ErrMalformedResponse, err)
	}
	var trailing json.RawMessage
	if err := dec.Decode(&trailing); !errors.Is(err, io.EOF) {
		return domain.QuizStep{}, fmt.Errorf("%w: quiz step has trailing data", domain.ErrMalformedResponse)
	}
	if payload.Type == nil {
		if payload.Error != "" {
			return domain.QuizStep{}, fmt.Errorf("%w: quiz service error: %s", domain.ErrMalformedResponse, payload.Error)
		}
		return domain.QuizStep{}, fmt.Errorf("%w: quiz step without type", domain.ErrMalformedResponse)
	}

	var step domain.QuizStep
	switch domain.StepKind(*payload.Type) {
	case domain.StepQuestion:
		if payload.Question == nil {
			return domain.QuizStep{}, fmt.Errorf("%w: question step without question", domain.ErrMalformedResponse)
		}
		step = domain.QuizStep{
			Kind:     domain.StepQuestion,
			Question: domain.Question{Text: *payload.Question, Options: payload.Options},
		}
	case domain.StepResult:
		if payload.Result == nil {
			return domain.QuizStep{}, fmt.Errorf("%w: result step without result", domain.ErrMalformedResponse)
		}
		step = domain.QuizStep{Kind: domain.StepResult, Result: *payload.Result}
	default:
		return domain.QuizStep{}, fmt.Errorf("%w: unknown step type %q", domain.ErrMalformedResponse, *payload.Type)
	}
	if err := step.Validate(); err != nil {
		return domain.QuizStep{}, err
	}
	return step, nil
}

func (c *Client) post(ctx context.Context, url, contentType string, body io.Reader) ([]byte, error) {
	token, err := c.resolveToken(ctx)
	if err != nil {
		return nil, err
	}
	req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if reqErr != nil {
		return nil, fmt.Errorf("create request: %w", reqErr)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return c.doJSONRequest(req, url)
}

func (c *Client) doJSONRequest(req *http.Request, url string) ([]byte, error) {
	res, doErr := c.resolvedHTTPClient().Do(req)
	if doErr != nil {
		return nil, doErr
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        url,
			Body:       string(buf),
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return buf, nil
}

func fetchTokenFromParamStore(ctx context.Context, getter Getter, name string) (string, error) {
	if getter == nil {
		return "", errors.New("mentor: paramstore getter is nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("mentor: token parameter name is empty")
	}

	raw, err := getter.GetParameter(ctx, name)
	if err != nil {
		return "", fmt.Errorf("mentor: fetch token from paramstore: %w", err)
	}
	var tp tokenPayload
	if err := json.Unmarshal([]byte(raw), &tp); err != nil {
		return "", fmt.Errorf("mentor: unmarshal paramstore token value as JSON: %w", err)
	}
	if tp.Token == "" {
		return "", fmt.Errorf("mentor: API token is empty")
	}
	return tp.Token, nil
}
