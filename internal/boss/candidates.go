package boss

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const (
	recommendationsPath = "/recommendations"
	chatsPath           = "/chats"

	TabNewGreeting = "new"
	TabChatting    = "chatting"
	StatusUnread   = "unread"
	StatusAll      = "all"
)

// Recommendation is one entry of the platform's recommended candidates list.
type Recommendation struct {
	Index   int    `json:"index"`
	Name    string `json:"name"`
	Title   string `json:"title"`
	Company string `json:"company"`
}

// Chat is one conversation of the recruiter inbox.
type Chat struct {
	ChatID      string `json:"chat_id"`
	Name        string `json:"name"`
	JobTitle    string `json:"job_title"`
	LastMessage string `json:"last_message"`
	Unread      bool   `json:"unread"`
}

// Ref addresses a candidate on the platform: by chat when one exists,
// otherwise by position in the recommendation list.
type Ref struct {
	ChatID string
	Index  int
}

func (r Ref) path() string {
	if r.ChatID != "" {
		return fmt.Sprintf("%s/%s", chatsPath, url.PathEscape(r.ChatID))
	}
	return fmt.Sprintf("%s/%d", recommendationsPath, r.Index)
}

func (r Ref) String() string {
	if r.ChatID != "" {
		return "chat:" + r.ChatID
	}
	return "recommendation:" + strconv.Itoa(r.Index)
}

// ListRecommendations returns the recommended candidates for the job, in platform order.
func (c *Client) ListRecommendations(ctx context.Context, job string) ([]Recommendation, error) {
	q := url.Values{}
	if job = strings.TrimSpace(job); job != "" {
		q.Set("job", job)
	}

	items, err := c.getItems(ctx, recommendationsPath, q)
	if err != nil {
		return nil, fmt.Errorf("list recommendations: %w", err)
	}

	var recommendations []Recommendation
	if err := decodeItems(items, &recommendations); err != nil {
		return nil, fmt.Errorf("decode recommendations: %w", err)
	}

	return recommendations, nil
}

// ListChats returns inbox conversations of the given tab filtered by status.
func (c *Client) ListChats(ctx context.Context, tab, status string) ([]Chat, error) {
	q := url.Values{}
	if tab = strings.TrimSpace(tab); tab != "" {
		q.Set("tab", tab)
	}
	if status = strings.TrimSpace(status); status != "" {
		q.Set("status", status)
	}

	items, err := c.getItems(ctx, chatsPath, q)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}

	var chats []Chat
	if err := decodeItems(items, &chats); err != nil {
		return nil, fmt.Errorf("decode chats: %w", err)
	}

	return chats, nil
}
