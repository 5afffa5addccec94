package boss

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Resume is résumé text extracted by the sidecar.
type Resume struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

// Contact is what the candidate shared through the platform's exchange buttons.
type Contact struct {
	Phone  string `json:"phone"`
	WeChat string `json:"wechat"`
}

func (c *Contact) Empty() bool {
	return c == nil || (strings.TrimSpace(c.Phone) == "" && strings.TrimSpace(c.WeChat) == "")
}

type availability struct {
	Available bool `json:"available"`
}

type actionResult struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

func (r actionResult) err(action string) error {
	if r.OK {
		return nil
	}
	if r.Error != "" {
		return fmt.Errorf("%s: %s", action, r.Error)
	}
	return fmt.Errorf("%s: sidecar reported failure", action)
}

// FetchOnlineResume returns the résumé shown on the platform profile.
func (c *Client) FetchOnlineResume(ctx context.Context, ref Ref) (*Resume, error) {
	var resume Resume
	if err := c.getJSON(ctx, ref.path()+"/resume", nil, &resume); err != nil {
		return nil, fmt.Errorf("fetch online resume %s: %w", ref, err)
	}
	if strings.TrimSpace(resume.Text) == "" {
		return nil, fmt.Errorf("fetch online resume %s: empty resume", ref)
	}
	return &resume, nil
}

// FetchFullResume returns the text of the attached résumé file.
func (c *Client) FetchFullResume(ctx context.Context, chatID string) (*Resume, error) {
	if chatID == "" {
		return nil, errors.New("chat id is required")
	}

	var resume Resume
	ref := Ref{ChatID: chatID}
	if err := c.getJSON(ctx, ref.path()+"/resume/full", nil, &resume); err != nil {
		return nil, fmt.Errorf("fetch full resume %s: %w", ref, err)
	}
	if strings.TrimSpace(resume.Text) == "" {
		return nil, fmt.Errorf("fetch full resume %s: empty resume", ref)
	}
	return &resume, nil
}

// IsFullResumeAvailable reports whether the candidate has already sent an attached résumé.
func (c *Client) IsFullResumeAvailable(ctx context.Context, chatID string) (bool, error) {
	if chatID == "" {
		return false, errors.New("chat id is required")
	}

	var result availability
	ref := Ref{ChatID: chatID}
	if err := c.getJSON(ctx, ref.path()+"/resume/full/status", nil, &result); err != nil {
		return false, fmt.Errorf("check full resume %s: %w", ref, err)
	}
	return result.Available, nil
}

// RequestFullResume asks the candidate to share the attached résumé.
func (c *Client) RequestFullResume(ctx context.Context, chatID string) error {
	if chatID == "" {
		return errors.New("chat id is required")
	}

	var result actionResult
	ref := Ref{ChatID: chatID}
	if err := c.postJSON(ctx, ref.path()+"/resume/request", nil, &result); err != nil {
		return fmt.Errorf("request full resume %s: %w", ref, err)
	}
	return result.err("request full resume")
}

// FetchContact returns exchanged contact details, or nil when none were shared.
func (c *Client) FetchContact(ctx context.Context, chatID string) (*Contact, error) {
	if chatID == "" {
		return nil, errors.New("chat id is required")
	}

	var contact Contact
	ref := Ref{ChatID: chatID}
	if err := c.getJSON(ctx, ref.path()+"/contact", nil, &contact); err != nil {
		return nil, fmt.Errorf("fetch contact %s: %w", ref, err)
	}
	if contact.Empty() {
		return nil, nil
	}
	return &contact, nil
}

type messageRequest struct {
	Text   string    `json:"text"`
	SentAt time.Time `json:"sent_at"`
}

// SendMessage posts a text message into an existing chat.
func (c *Client) SendMessage(ctx context.Context, chatID, text string) error {
	if chatID == "" {
		return errors.New("chat id is required")
	}
	if strings.TrimSpace(text) == "" {
		return errors.New("message must not be empty")
	}

	var result actionResult
	ref := Ref{ChatID: chatID}
	if err := c.postJSON(ctx, ref.path()+"/messages", messageRequest{Text: text, SentAt: time.Now().UTC()}, &result); err != nil {
		return fmt.Errorf("send message %s: %w", ref, err)
	}
	return result.err("send message")
}

// Greet starts a conversation with a recommended candidate or greets a new chat.
func (c *Client) Greet(ctx context.Context, ref Ref, text string) error {
	if strings.TrimSpace(text) == "" {
		return errors.New("greeting must not be empty")
	}

	var result actionResult
	if err := c.postJSON(ctx, ref.path()+"/greet", messageRequest{Text: text, SentAt: time.Now().UTC()}, &result); err != nil {
		return fmt.Errorf("greet %s: %w", ref, err)
	}
	return result.err("greet")
}

// Discard marks the candidate as not suitable on the platform.
func (c *Client) Discard(ctx context.Context, ref Ref) error {
	var result actionResult
	if err := c.postJSON(ctx, ref.path()+"/discard", nil, &result); err != nil {
		return fmt.Errorf("discard %s: %w", ref, err)
	}
	return result.err("discard")
}
