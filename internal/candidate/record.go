package candidate

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound             = errors.New("candidate not found")
	ErrInvalidStage         = errors.New("invalid stage")
	ErrStageWithoutAnalysis = errors.New("stage change without analysis")
	ErrChatIDConflict       = errors.New("chat id already assigned")
)

// Store persists candidate records. Lookups on unknown keys return ErrNotFound.
type Store interface {
	GetByCandidateID(ctx context.Context, candidateID string) (*Record, error)
	GetByChatID(ctx context.Context, chatID string) (*Record, error)
	FindByNameAndJob(ctx context.Context, name, job string) (*Record, error)
	Upsert(ctx context.Context, record *Record) (*Record, error)
	QueryStale(ctx context.Context, stages []Stage, olderThan time.Duration) ([]*Record, error)
}

// Record is the recruiting state of one candidate for one job.
type Record struct {
	CandidateID     string
	ChatID          string
	Name            string
	JobApplied      string
	ResumeText      string
	FullResume      string
	ConversationRef string
	Analysis        *Analysis
	Stage           Stage
	StageSource     StageSource
	Contact         *Contact
	// LastInbound is the last candidate message that already got a reply.
	LastInbound string
	Embedding   []float32
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Analysis is the structured scoring result of the latest résumé analysis.
type Analysis struct {
	Scores       map[string]float64 `json:"scores,omitempty"`
	Overall      *float64           `json:"overall"`
	Summary      string             `json:"summary,omitempty"`
	FollowUps    []string           `json:"follow_ups,omitempty"`
	ResumeDigest string             `json:"resume_digest,omitempty"`
	AnalyzedAt   time.Time          `json:"analyzed_at"`
}

// Contact holds side-channel contact details shared by the candidate.
type Contact struct {
	Phone      string    `json:"phone,omitempty"`
	WeChat     string    `json:"wechat,omitempty"`
	CapturedAt time.Time `json:"captured_at"`
	// Revoked is set by an explicit discard so the details stop forcing CONTACT.
	Revoked bool `json:"revoked,omitempty"`
}

// Captured reports whether the contact details should force the CONTACT stage.
func (c *Contact) Captured() bool {
	if c == nil || c.Revoked {
		return false
	}
	return strings.TrimSpace(c.Phone) != "" || strings.TrimSpace(c.WeChat) != ""
}

// New creates a record with a fresh candidate id. It starts at PASS until analysed.
func New(name, job string) *Record {
	return &Record{
		CandidateID: uuid.NewString(),
		Name:        strings.TrimSpace(name),
		JobApplied:  strings.TrimSpace(job),
		Stage:       StagePass,
		StageSource: SourceAnalysis,
	}
}

func (r *Record) ContactCaptured() bool {
	return r != nil && r.Contact.Captured()
}

// Resume returns the best résumé text available, preferring the attached one.
func (r *Record) Resume() string {
	if r == nil {
		return ""
	}
	if strings.TrimSpace(r.FullResume) != "" {
		return r.FullResume
	}
	return r.ResumeText
}

// Clone returns a deep copy so callers can mutate without touching stored state.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	out.Analysis = r.Analysis.Clone()
	if r.Contact != nil {
		contact := *r.Contact
		out.Contact = &contact
	}
	if r.Embedding != nil {
		out.Embedding = append([]float32(nil), r.Embedding...)
	}
	return &out
}

func (a *Analysis) Clone() *Analysis {
	if a == nil {
		return nil
	}
	out := *a
	if a.Overall != nil {
		overall := *a.Overall
		out.Overall = &overall
	}
	if a.Scores != nil {
		out.Scores = make(map[string]float64, len(a.Scores))
		for k, v := range a.Scores {
			out.Scores[k] = v
		}
	}
	out.FollowUps = append([]string(nil), a.FollowUps...)
	return &out
}

// OverallOrNaN is a convenience for logging and reports.
func (a *Analysis) OverallOrNaN() float64 {
	if a == nil || a.Overall == nil {
		return math.NaN()
	}
	return *a.Overall
}

// Digest fingerprints résumé text so an analysis can be matched to its input.
func Digest(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(text))
	return fmt.Sprintf("%x", sum[:])
}

// Merge applies incoming onto existing and returns the record to persist.
// Empty fields in incoming keep the stored values. existing may be nil for
// a first write. The returned record has UpdatedAt set to now.
func Merge(existing, incoming *Record, now time.Time) (*Record, error) {
	if incoming == nil {
		return nil, errors.New("record is required")
	}
	if strings.TrimSpace(incoming.CandidateID) == "" {
		return nil, errors.New("candidate id is required")
	}

	if incoming.Stage != "" && !incoming.Stage.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStage, incoming.Stage)
	}

	var merged *Record
	if existing == nil {
		merged = &Record{CandidateID: incoming.CandidateID, Stage: StagePass, StageSource: SourceAnalysis, CreatedAt: now}
	} else {
		if existing.CandidateID != incoming.CandidateID {
			return nil, fmt.Errorf("merge candidate %s into %s", incoming.CandidateID, existing.CandidateID)
		}
		merged = existing.Clone()
		if merged.CreatedAt.IsZero() {
			merged.CreatedAt = now
		}
	}

	if incoming.ChatID != "" {
		if merged.ChatID != "" && merged.ChatID != incoming.ChatID {
			return nil, fmt.Errorf("%w: candidate %s has chat %s, got %s", ErrChatIDConflict, merged.CandidateID, merged.ChatID, incoming.ChatID)
		}
		merged.ChatID = incoming.ChatID
	}

	keep(&merged.Name, incoming.Name)
	keep(&merged.JobApplied, incoming.JobApplied)
	keep(&merged.ResumeText, incoming.ResumeText)
	keep(&merged.FullResume, incoming.FullResume)
	keep(&merged.ConversationRef, incoming.ConversationRef)
	keep(&merged.LastInbound, incoming.LastInbound)

	if incoming.Analysis != nil {
		merged.Analysis = incoming.Analysis.Clone()
	}
	if incoming.Contact != nil {
		contact := *incoming.Contact
		merged.Contact = &contact
	}
	if len(incoming.Embedding) > 0 {
		merged.Embedding = append([]float32(nil), incoming.Embedding...)
	}

	if incoming.Stage != "" {
		if err := checkStage(merged, incoming); err != nil {
			return nil, err
		}
		merged.Stage = incoming.Stage
		merged.StageSource = incoming.StageSource
		if merged.StageSource == "" {
			merged.StageSource = SourceAnalysis
		}
	}

	merged.UpdatedAt = now
	return merged, nil
}

// checkStage guards the coupling between a stage write and the analysis behind it.
func checkStage(current, incoming *Record) error {
	switch incoming.StageSource {
	case SourceDiscard:
		if incoming.Stage != StagePass {
			return fmt.Errorf("%w: discard must set %s, got %s", ErrInvalidStage, StagePass, incoming.Stage)
		}
		return nil
	case SourceContact:
		if incoming.Stage != StageContact {
			return fmt.Errorf("%w: contact capture must set %s, got %s", ErrInvalidStage, StageContact, incoming.Stage)
		}
		return nil
	case "", SourceAnalysis:
	default:
		return fmt.Errorf("unknown stage source %q", incoming.StageSource)
	}

	if incoming.Stage == current.Stage && incoming.Analysis == nil {
		return nil
	}
	if incoming.Analysis == nil && incoming.Stage != StagePass && incoming.Stage != StageContact {
		return fmt.Errorf("%w: candidate %s moved to %s", ErrStageWithoutAnalysis, incoming.CandidateID, incoming.Stage)
	}
	// PASS without an analysis is the fail-closed verdict for unscored
	// candidates only. A scored candidate is dropped through a discard.
	if incoming.Stage == StagePass && incoming.Analysis == nil && current.Analysis != nil {
		return fmt.Errorf("%w: candidate %s moved to %s against its stored analysis", ErrStageWithoutAnalysis, incoming.CandidateID, incoming.Stage)
	}
	if incoming.Stage == StageContact && incoming.Analysis == nil && !current.ContactCaptured() {
		return fmt.Errorf("%w: candidate %s moved to %s without contact details", ErrStageWithoutAnalysis, incoming.CandidateID, incoming.Stage)
	}
	return nil
}

func keep(dst *string, incoming string) {
	if strings.TrimSpace(incoming) != "" {
		*dst = incoming
	}
}
