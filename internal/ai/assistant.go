package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spigell/hr-assistant/internal/candidate"
)

// Purpose selects what a generated message is for.
type Purpose string

const (
	PurposeAnalyze  Purpose = "analyze"
	PurposeGreet    Purpose = "greet"
	PurposeChat     Purpose = "chat"
	PurposeFollowup Purpose = "followup"
	PurposeContact  Purpose = "contact"
)

var ErrUnknownPurpose = errors.New("unknown purpose")

func (p Purpose) Validate() error {
	switch p {
	case PurposeAnalyze, PurposeGreet, PurposeChat, PurposeFollowup, PurposeContact:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownPurpose, string(p))
	}
}

// Job is the position candidates are evaluated against.
type Job struct {
	Title       string `mapstructure:"title"`
	Description string `mapstructure:"description"`
}

func (j Job) String() string {
	return strings.TrimSpace(j.Title)
}

// Request carries the candidate context a message is generated from.
type Request struct {
	Candidate string
	Job       Job
	Analysis  *candidate.Analysis
	// Inbound is the latest candidate message, if any.
	Inbound string
}

// Assistant scores résumés and drafts messages inside a per-candidate conversation.
type Assistant interface {
	Analyze(ctx context.Context, conversationRef, resume string, job Job) (*candidate.Analysis, error)
	Generate(ctx context.Context, conversationRef string, purpose Purpose, req Request) (string, error)
	InitConversation(ctx context.Context, candidateName string, job Job) (string, error)
}

// Embedder turns résumé text into a vector for similarity search.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Role of a conversation turn, using the model API's naming.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

type Turn struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Purpose   Purpose   `json:"purpose,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Conversation is the LLM thread kept for one candidate.
type Conversation struct {
	Ref       string
	Candidate string
	Job       string
	Turns     []Turn
	CreatedAt time.Time
}

var ErrConversationNotFound = errors.New("conversation not found")

// HistoryStore persists conversations so a thread survives restarts.
type HistoryStore interface {
	Start(ctx context.Context, conv *Conversation) error
	Load(ctx context.Context, ref string) (*Conversation, error)
	Append(ctx context.Context, ref string, turns ...Turn) error
}
