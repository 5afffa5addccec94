// Package workflow runs the recruiting entry points: it walks a candidate
// list, scores each résumé, moves the candidate through the stage machine and
// performs the outbound action the new stage calls for.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spigell/hr-assistant/internal/ai"
	"github.com/spigell/hr-assistant/internal/boss"
	"github.com/spigell/hr-assistant/internal/candidate"
	"github.com/spigell/hr-assistant/internal/lock"
	"github.com/spigell/hr-assistant/internal/logger"
	"github.com/spigell/hr-assistant/internal/notify"
)

// Kind names a workflow entry point.
type Kind string

const (
	KindRecommend Kind = "recommend"
	KindGreet     Kind = "greet"
	KindChat      Kind = "chat"
	KindFollowup  Kind = "followup"
)

// Kinds lists every entry point.
var Kinds = []Kind{KindRecommend, KindGreet, KindChat, KindFollowup}

const DefaultFollowUpAfter = 24 * time.Hour

// ErrFatal marks failures that abort the whole batch, such as an unreachable store.
var ErrFatal = errors.New("batch aborted")

func ParseKind(s string) (Kind, error) {
	kind := Kind(strings.ToLower(strings.TrimSpace(s)))
	switch kind {
	case KindRecommend, KindGreet, KindChat, KindFollowup:
		return kind, nil
	default:
		return "", fmt.Errorf("unknown workflow %q", s)
	}
}

// Platform is the recruiting platform as the workflows use it.
type Platform interface {
	ListRecommendations(ctx context.Context, job string) ([]boss.Recommendation, error)
	ListChats(ctx context.Context, tab, status string) ([]boss.Chat, error)

	FetchOnlineResume(ctx context.Context, ref boss.Ref) (*boss.Resume, error)
	FetchFullResume(ctx context.Context, chatID string) (*boss.Resume, error)
	IsFullResumeAvailable(ctx context.Context, chatID string) (bool, error)
	RequestFullResume(ctx context.Context, chatID string) error
	FetchContact(ctx context.Context, chatID string) (*boss.Contact, error)

	SendMessage(ctx context.Context, chatID, text string) error
	Greet(ctx context.Context, ref boss.Ref, text string) error
	Discard(ctx context.Context, ref boss.Ref) error
}

var _ Platform = (*boss.Client)(nil)

// Deps aggregates the collaborators shared by every entry point.
type Deps struct {
	Store    candidate.Store
	Platform Platform
	// Assistant is only needed by Run. Manual overrides work without it.
	Assistant ai.Assistant
	// Embedder is optional. When set, fresh analyses also store a résumé embedding.
	Embedder ai.Embedder
	Notifier notify.Notifier
	Locker   lock.Locker
	Logger   *zap.Logger
	Now      func() time.Time
}

// Config contains the workflow settings. Job and Thresholds come from their
// own configuration sections.
type Config struct {
	Job        ai.Job               `mapstructure:"-"`
	Thresholds candidate.Thresholds `mapstructure:"-"`

	FollowUpAfter time.Duration `mapstructure:"follow-up-after"`
	// Limit caps the candidates handled per run. Zero means no limit.
	Limit       int `mapstructure:"limit"`
	Concurrency int `mapstructure:"concurrency"`
	// AnalysisMaxAge forces re-analysis of unchanged résumés older than this.
	// Zero keeps an analysis for as long as the résumé does not change.
	AnalysisMaxAge time.Duration `mapstructure:"analysis-max-age"`

	NewTab     string `mapstructure:"new-tab"`
	NewStatus  string `mapstructure:"new-status"`
	ChatTab    string `mapstructure:"chat-tab"`
	ChatStatus string `mapstructure:"chat-status"`
}

func (c *Config) setDefaults() {
	if c.FollowUpAfter <= 0 {
		c.FollowUpAfter = DefaultFollowUpAfter
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.NewTab == "" {
		c.NewTab = boss.TabNewGreeting
	}
	if c.NewStatus == "" {
		c.NewStatus = boss.StatusUnread
	}
	if c.ChatTab == "" {
		c.ChatTab = boss.TabChatting
	}
	if c.ChatStatus == "" {
		c.ChatStatus = boss.StatusUnread
	}
}

// Runner executes workflow entry points against one job.
type Runner struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger
}

func NewRunner(cfg Config, deps Deps) (*Runner, error) {
	if strings.TrimSpace(cfg.Job.Title) == "" {
		return nil, errors.New("job title is required")
	}
	if err := cfg.Thresholds.Validate(); err != nil {
		return nil, fmt.Errorf("thresholds: %w", err)
	}
	if cfg.Limit < 0 {
		return nil, fmt.Errorf("limit must not be negative, got %d", cfg.Limit)
	}
	if deps.Store == nil {
		return nil, errors.New("candidate store is required")
	}
	if deps.Platform == nil {
		return nil, errors.New("platform client is required")
	}

	cfg.setDefaults()
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.NewLog(deps.Logger)
	}
	if deps.Locker == nil {
		deps.Locker = lock.NewLocal(lock.DefaultTTL)
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	return &Runner{cfg: cfg, deps: deps, logger: deps.Logger}, nil
}

// Run processes one batch of the entry point. Per-candidate failures end up in
// the report. The returned error is non-nil when listing failed, the batch
// hit an ErrFatal failure or ctx was cancelled. The report is returned
// whenever listing succeeded.
func (r *Runner) Run(ctx context.Context, kind Kind) (*Report, error) {
	if r.deps.Assistant == nil {
		return nil, errors.New("assistant is required to run workflows")
	}

	log := logger.WithWorkflow(r.logger, string(kind))

	report := &Report{Workflow: kind, Job: r.cfg.Job.String(), StartedAt: r.now()}

	tasks, step, err := r.tasks(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("list %s candidates: %w", kind, err)
	}
	if r.cfg.Limit > 0 && len(tasks) > r.cfg.Limit {
		step.Dropped += len(tasks) - r.cfg.Limit
		tasks = tasks[:r.cfg.Limit]
	}
	step.Left = len(tasks)
	report.Source = step

	log.Info("workflow source",
		zap.Int("initial", step.Initial),
		zap.Int("dropped", step.Dropped),
		zap.Int("left", step.Left),
	)

	report.Outcomes = make([]Outcome, len(tasks))
	err = r.process(ctx, kind, tasks, report.Outcomes, log)
	report.FinishedAt = r.now()

	totals := report.Totals()
	log.Info("workflow finished",
		zap.Int("processed", totals.OK),
		zap.Int("skipped", totals.Skipped),
		zap.Int("failed", totals.Failed),
		zap.Int("cancelled", totals.Cancelled),
		zap.Duration("took", report.FinishedAt.Sub(report.StartedAt)),
	)

	if err != nil {
		return report, err
	}
	if ctx.Err() != nil {
		return report, fmt.Errorf("%s run interrupted: %w", kind, ctx.Err())
	}
	return report, nil
}

// Recommend screens the platform's recommended candidates for the job.
func (r *Runner) Recommend(ctx context.Context) (*Report, error) {
	return r.Run(ctx, KindRecommend)
}

// NewGreeting answers candidates who wrote first.
func (r *Runner) NewGreeting(ctx context.Context) (*Report, error) {
	return r.Run(ctx, KindGreet)
}

// ActiveChat continues conversations with unread candidate messages.
func (r *Runner) ActiveChat(ctx context.Context) (*Report, error) {
	return r.Run(ctx, KindChat)
}

func (r *Runner) FollowUp(ctx context.Context) (*Report, error) {
	return r.Run(ctx, KindFollowup)
}

// process fills outcomes in source order. A started candidate always runs to
// completion; cancellation only prevents new ones from starting.
func (r *Runner) process(ctx context.Context, kind Kind, tasks []task, outcomes []Outcome, log *zap.Logger) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)

	for i := range tasks {
		if gctx.Err() != nil {
			break
		}

		t := tasks[i]
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			out, err := r.handle(context.WithoutCancel(gctx), kind, t, log)
			outcomes[i] = out
			return err
		})
	}

	err := g.Wait()

	reason := "run cancelled"
	if err != nil {
		reason = "batch aborted"
	}
	for i := range outcomes {
		if outcomes[i].Status == "" {
			outcomes[i] = tasks[i].outcome(kind)
			outcomes[i].Status = StatusCancelled
			outcomes[i].Reason = reason
		}
	}

	return err
}

// tasks lists the batch for kind in source order.
func (r *Runner) tasks(ctx context.Context, kind Kind) ([]task, Step, error) {
	switch kind {
	case KindRecommend:
		recs, err := r.deps.Platform.ListRecommendations(ctx, r.cfg.Job.String())
		if err != nil {
			return nil, Step{}, err
		}
		tasks := make([]task, 0, len(recs))
		for _, rec := range recs {
			tasks = append(tasks, task{ref: boss.Ref{Index: rec.Index}, name: rec.Name})
		}
		return tasks, Step{Initial: len(recs)}, nil

	case KindGreet, KindChat:
		tab, status := r.cfg.NewTab, r.cfg.NewStatus
		if kind == KindChat {
			tab, status = r.cfg.ChatTab, r.cfg.ChatStatus
		}
		chats, err := r.deps.Platform.ListChats(ctx, tab, status)
		if err != nil {
			return nil, Step{}, err
		}
		tasks := make([]task, 0, len(chats))
		for _, chat := range chats {
			// the inbox is shared by every opening of the recruiter
			if chat.JobTitle != "" && !strings.EqualFold(strings.TrimSpace(chat.JobTitle), r.cfg.Job.String()) {
				continue
			}
			if strings.TrimSpace(chat.ChatID) == "" {
				continue
			}
			tasks = append(tasks, task{ref: boss.Ref{ChatID: chat.ChatID}, name: chat.Name, inbound: chat.LastMessage})
		}
		return tasks, Step{Initial: len(chats), Dropped: len(chats) - len(tasks)}, nil

	case KindFollowup:
		stale, err := r.deps.Store.QueryStale(ctx, []candidate.Stage{candidate.StageChat, candidate.StageSeek}, r.cfg.FollowUpAfter)
		if err != nil {
			return nil, Step{}, fmt.Errorf("%w: %w", ErrFatal, err)
		}
		tasks := make([]task, 0, len(stale))
		for _, rec := range stale {
			tasks = append(tasks, task{ref: boss.Ref{ChatID: rec.ChatID}, name: rec.Name, record: rec})
		}
		return tasks, Step{Initial: len(stale)}, nil

	default:
		return nil, Step{}, fmt.Errorf("unknown workflow %q", kind)
	}
}

func (r *Runner) now() time.Time {
	return r.deps.Now().UTC()
}

// task is one candidate of a batch.
type task struct {
	ref     boss.Ref
	name    string
	inbound string
	// record is set for follow-ups, which start from the store.
	record *candidate.Record
}

func (t task) outcome(kind Kind) Outcome {
	out := Outcome{Workflow: kind, Name: t.name, ChatID: t.ref.ChatID}
	if t.record != nil {
		out.CandidateID = t.record.CandidateID
		out.PreviousStage = t.record.Stage
		out.Stage = t.record.Stage
		out.ConversationRef = t.record.ConversationRef
	}
	return out
}

// lockKey serialises work on one candidate across overlapping runs. Stored
// candidates are additionally held under candidateLock once loaded, which is
// the key manual overrides take.
func (t task) lockKey(job string) string {
	switch {
	case t.record != nil:
		return candidateLock(t.record.CandidateID)
	case t.ref.ChatID != "":
		return "chat:" + t.ref.ChatID
	default:
		return "name:" + strings.ToLower(job) + "|" + strings.ToLower(strings.TrimSpace(t.name))
	}
}

func candidateLock(candidateID string) string {
	return "candidate:" + candidateID
}

// isFatal reports store failures that must stop the batch.
func isFatal(err error) bool {
	return errors.Is(err, ErrFatal)
}

func fatal(err error) error {
	if err == nil || isFatal(err) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrFatal, err)
}
