package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrMalformedResponse marks an upstream payload that does not conform to the
// expected shape. Integrations wrap it so callers can classify with errors.Is.
var ErrMalformedResponse = errors.New("malformed response")

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ParseRole maps a stored role name to a Role. "model" is accepted as an alias
// for assistant because the mentor backend records replies under that name.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "user":
		return RoleUser, nil
	case "assistant", "model":
		return RoleAssistant, nil
	case "system":
		return RoleSystem, nil
	default:
		return "", fmt.Errorf("domain: unknown role %q", s)
	}
}

func (r *Role) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("domain: decode role: %w", err)
	}
	parsed, err := ParseRole(s)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Attachment is a file sent alongside a message. Exactly one of Data or
// Locator is expected to be set.
type Attachment struct {
	Name      string `json:"name"`
	MediaType string `json:"mediaType,omitempty"`
	Data      []byte `json:"data,omitempty"`
	Locator   string `json:"locator,omitempty"`
}

// Inline reports whether the attachment carries its bytes.
func (a *Attachment) Inline() bool {
	return a != nil && len(a.Data) > 0
}

func (a *Attachment) Validate() error {
	if a == nil {
		return nil
	}
	if strings.TrimSpace(a.Name) == "" {
		return errors.New("domain: attachment name is required")
	}
	if len(a.Data) == 0 && strings.TrimSpace(a.Locator) == "" {
		return errors.New("domain: attachment needs inline data or a locator")
	}
	return nil
}

func (a *Attachment) Clone() *Attachment {
	if a == nil {
		return nil
	}
	out := *a
	if a.Data != nil {
		out.Data = append([]byte(nil), a.Data...)
	}
	return &out
}

// WithoutData returns a copy that keeps the name, media type and locator but
// drops inline bytes.
func (a *Attachment) WithoutData() *Attachment {
	if a == nil {
		return nil
	}
	out := *a
	out.Data = nil
	return &out
}

// Turn is one committed step of a conversation.
type Turn struct {
	Sequence   int64       `json:"sequence"`
	Role       Role        `json:"role"`
	Content    string      `json:"content,omitempty"`
	Attachment *Attachment `json:"attachment,omitempty"`
	CreatedAt  time.Time   `json:"createdAt"`
}

func (t Turn) Clone() Turn {
	t.Attachment = t.Attachment.Clone()
	return t
}
