package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/hr-assistant/internal/ai"
	"github.com/spigell/hr-assistant/internal/boss"
	"github.com/spigell/hr-assistant/internal/candidate"
	"github.com/spigell/hr-assistant/internal/lock"
	"github.com/spigell/hr-assistant/internal/logger"
)

// state is the working copy of one candidate while its pipeline runs.
type state struct {
	kind Kind
	task task
	// prev is the stored record, nil for a first sighting.
	prev *candidate.Record
	rec  *candidate.Record
	out  *Outcome
	log  *zap.Logger
}

func (s *state) ref() boss.Ref {
	if s.rec.ChatID != "" {
		return boss.Ref{ChatID: s.rec.ChatID}
	}
	return s.task.ref
}

func (s *state) act(a Action) {
	s.out.Actions = append(s.out.Actions, a)
}

// handle runs the full pipeline for one candidate. Only ErrFatal errors are
// returned, everything else is reported in the outcome.
func (r *Runner) handle(ctx context.Context, kind Kind, t task, log *zap.Logger) (Outcome, error) {
	out := t.outcome(kind)
	log = logger.WithFields(log, logger.CandidateFields(out.CandidateID, out.ChatID, out.Name)...)

	key := t.lockKey(r.cfg.Job.String())
	release, err := r.deps.Locker.Acquire(ctx, key)
	if errors.Is(err, lock.ErrHeld) {
		return r.locked(out, log), nil
	}
	if err != nil {
		return r.failed(out, log, fmt.Errorf("acquire lock: %w", err))
	}
	defer release()

	if kind == KindFollowup {
		return r.followup(ctx, t, out, log)
	}

	s := &state{kind: kind, task: t, out: &out, log: log}

	if err := r.load(ctx, s); err != nil {
		return r.failed(out, log, err)
	}
	if s.prev != nil && candidateLock(s.prev.CandidateID) != key {
		held, err := r.deps.Locker.Acquire(ctx, candidateLock(s.prev.CandidateID))
		if errors.Is(err, lock.ErrHeld) {
			out.CandidateID = s.prev.CandidateID
			return r.locked(out, log), nil
		}
		if err != nil {
			return r.failed(out, log, fmt.Errorf("acquire lock: %w", err))
		}
		defer held()
	}
	out.CandidateID = s.rec.CandidateID
	out.ConversationRef = s.rec.ConversationRef
	if s.prev != nil {
		out.PreviousStage = s.prev.Stage
	}
	log = logger.WithFields(log, logger.CandidateFields(s.rec.CandidateID, "", "")...)
	s.log = log

	for _, step := range []func(context.Context, *state) error{
		r.ensureResume,
		r.ensureConversation,
		r.ensureContact,
	} {
		if err := step(ctx, s); err != nil {
			return r.failed(out, log, err)
		}
	}

	if r.manuallyDiscarded(s) {
		out.Reason = "discarded manually"
	} else {
		if err := r.ensureAnalysis(ctx, s); err != nil {
			return r.failed(out, log, err)
		}
		r.classify(s)

		if err := r.perform(ctx, s, plan(s)); err != nil {
			return r.failed(out, log, err)
		}
	}

	saved, err := r.deps.Store.Upsert(ctx, s.rec)
	if err != nil {
		return r.failed(out, log, fatal(fmt.Errorf("save candidate %s: %w", s.rec.CandidateID, err)))
	}

	out.fill(saved)
	out.Status = StatusOK

	log.Info("candidate processed",
		zap.String("previous_stage", string(out.PreviousStage)),
		zap.String("stage", string(out.Stage)),
		zap.Float64("overall", saved.Analysis.OverallOrNaN()),
		zap.Strings("actions", actionNames(out.Actions)),
	)
	return out, nil
}

func (r *Runner) locked(out Outcome, log *zap.Logger) Outcome {
	out.Status = StatusSkipped
	out.Reason = "locked by another run"
	log.Info("skipping candidate", zap.String("reason", out.Reason))
	return out
}

// failed records a per-candidate failure. Fatal errors are passed on to stop the batch.
func (r *Runner) failed(out Outcome, log *zap.Logger, err error) (Outcome, error) {
	out.Status = StatusFailed
	out.Error = err.Error()

	if isFatal(err) {
		log.Error("aborting batch", zap.Error(err))
		return out, err
	}

	log.Warn("candidate failed", zap.Error(err))
	return out, nil
}

// load finds the stored record of the candidate or starts a new one.
func (r *Runner) load(ctx context.Context, s *state) error {
	job := r.cfg.Job.String()
	name := strings.TrimSpace(s.task.name)

	var (
		stored *candidate.Record
		err    error
	)

	if chatID := s.task.ref.ChatID; chatID != "" {
		stored, err = r.deps.Store.GetByChatID(ctx, chatID)
		if errors.Is(err, candidate.ErrNotFound) && name != "" {
			// a recommended candidate who answered our greeting
			stored, err = r.deps.Store.FindByNameAndJob(ctx, name, job)
			if err == nil && stored.ChatID != "" {
				stored, err = nil, candidate.ErrNotFound
			}
		}
	} else {
		if name == "" {
			return errors.New("recommendation has no candidate name")
		}
		stored, err = r.deps.Store.FindByNameAndJob(ctx, name, job)
	}

	switch {
	case err == nil:
		s.prev = stored
		s.rec = stored.Clone()
		if s.rec.ChatID == "" && s.task.ref.ChatID != "" {
			s.rec.ChatID = s.task.ref.ChatID
			s.log.Info("linking candidate to chat", zap.String(logger.FieldCandidateID, stored.CandidateID))
		}
	case errors.Is(err, candidate.ErrNotFound):
		s.rec = candidate.New(name, job)
		s.rec.ChatID = s.task.ref.ChatID
	default:
		return fatal(fmt.Errorf("load candidate: %w", err))
	}

	return nil
}

// ensureResume fills the résumé from cache or the platform. Active chats
// switch to the attached résumé as soon as the candidate provides one.
func (r *Runner) ensureResume(ctx context.Context, s *state) error {
	if s.kind == KindChat && s.rec.ChatID != "" && strings.TrimSpace(s.rec.FullResume) == "" {
		available, err := r.deps.Platform.IsFullResumeAvailable(ctx, s.rec.ChatID)
		if err != nil {
			return fmt.Errorf("check full resume: %w", err)
		}
		if available {
			full, err := r.deps.Platform.FetchFullResume(ctx, s.rec.ChatID)
			if err != nil {
				return fmt.Errorf("fetch full resume: %w", err)
			}
			s.rec.FullResume = strings.TrimSpace(full.Text)
			s.act(ActionFetchFullResume)
			s.log.Info("full resume fetched", zap.Int("length", len(s.rec.FullResume)))
		}
	}

	if strings.TrimSpace(s.rec.Resume()) != "" {
		return nil
	}

	resume, err := r.deps.Platform.FetchOnlineResume(ctx, s.ref())
	if err != nil {
		return fmt.Errorf("fetch resume: %w", err)
	}
	if strings.TrimSpace(resume.Text) == "" {
		return fmt.Errorf("resume of %s is empty", s.ref())
	}

	s.rec.ResumeText = strings.TrimSpace(resume.Text)
	if s.rec.Name == "" {
		s.rec.Name = strings.TrimSpace(resume.Name)
	}
	s.act(ActionFetchResume)
	return nil
}

func (r *Runner) ensureConversation(ctx context.Context, s *state) error {
	if s.rec.ConversationRef != "" {
		return nil
	}

	ref, err := r.deps.Assistant.InitConversation(ctx, s.rec.Name, r.cfg.Job)
	if err != nil {
		return fmt.Errorf("init conversation: %w", err)
	}
	s.rec.ConversationRef = ref
	s.out.ConversationRef = ref
	return nil
}

// ensureContact picks up contact details the candidate shared in the chat.
// Details revoked by a discard stay revoked until they change.
func (r *Runner) ensureContact(ctx context.Context, s *state) error {
	if s.kind != KindChat || s.rec.ChatID == "" {
		return nil
	}

	contact, err := r.deps.Platform.FetchContact(ctx, s.rec.ChatID)
	if err != nil {
		return fmt.Errorf("fetch contact: %w", err)
	}
	if contact == nil || contact.Empty() {
		return nil
	}

	phone, wechat := strings.TrimSpace(contact.Phone), strings.TrimSpace(contact.WeChat)
	if current := s.rec.Contact; current != nil && current.Phone == phone && current.WeChat == wechat {
		return nil
	}

	s.rec.Contact = &candidate.Contact{Phone: phone, WeChat: wechat, CapturedAt: r.now()}
	s.log.Info("contact details captured")
	return nil
}

// manuallyDiscarded keeps an operator discard in force while the résumé is
// the one it was made against and no new contact details arrived.
func (r *Runner) manuallyDiscarded(s *state) bool {
	if s.prev == nil || s.prev.StageSource != candidate.SourceDiscard {
		return false
	}
	if s.rec.ContactCaptured() {
		return false
	}
	return candidate.Digest(s.prev.Resume()) == candidate.Digest(s.rec.Resume())
}

// ensureAnalysis reuses the stored analysis while it matches the résumé.
func (r *Runner) ensureAnalysis(ctx context.Context, s *state) error {
	resume := s.rec.Resume()
	digest := candidate.Digest(resume)

	if a := s.rec.Analysis; a != nil && a.ResumeDigest == digest {
		if r.cfg.AnalysisMaxAge <= 0 || r.now().Sub(a.AnalyzedAt) <= r.cfg.AnalysisMaxAge {
			return nil
		}
	}

	analysis, err := r.deps.Assistant.Analyze(ctx, s.rec.ConversationRef, resume, r.cfg.Job)
	if err != nil {
		return fmt.Errorf("analyze resume: %w", err)
	}
	if analysis == nil {
		return errors.New("analyze resume: empty result")
	}
	if analysis.ResumeDigest == "" {
		analysis.ResumeDigest = digest
	}
	if analysis.AnalyzedAt.IsZero() {
		analysis.AnalyzedAt = r.now()
	}

	s.rec.Analysis = analysis
	s.act(ActionAnalyze)

	r.embed(ctx, s, resume)
	return nil
}

// embed refreshes the résumé vector. Failures are logged only.
func (r *Runner) embed(ctx context.Context, s *state, resume string) {
	if r.deps.Embedder == nil {
		return
	}
	vector, err := r.deps.Embedder.Embed(ctx, resume)
	if err != nil {
		s.log.Warn("embedding resume failed", zap.Error(err))
		return
	}
	s.rec.Embedding = vector
}

func (r *Runner) classify(s *state) {
	next := candidate.Classify(s.rec.Analysis, s.rec.ContactCaptured(), r.cfg.Thresholds)

	source := candidate.SourceAnalysis
	if next == candidate.StageContact && s.prev != nil && s.prev.StageSource == candidate.SourceContact {
		source = candidate.SourceContact
	}

	s.rec.Stage = next
	s.rec.StageSource = source
}

// request builds the message generation context for the candidate.
func (r *Runner) request(rec *candidate.Record, inbound string) ai.Request {
	job := r.cfg.Job
	if rec.JobApplied != "" && !strings.EqualFold(rec.JobApplied, job.Title) {
		job = ai.Job{Title: rec.JobApplied}
	}
	return ai.Request{
		Candidate: rec.Name,
		Job:       job,
		Analysis:  rec.Analysis,
		Inbound:   inbound,
	}
}

// followup nudges a candidate who went quiet. The conversation so far is the
// only input, nothing is fetched from the platform.
func (r *Runner) followup(ctx context.Context, t task, out Outcome, log *zap.Logger) (Outcome, error) {
	// the batch was listed before the lock was taken
	rec, err := r.deps.Store.GetByCandidateID(ctx, t.record.CandidateID)
	if err != nil {
		return r.failed(out, log, fatal(fmt.Errorf("load candidate %s: %w", t.record.CandidateID, err)))
	}
	out.Stage = rec.Stage
	out.ChatID = rec.ChatID

	switch {
	case rec.Stage != candidate.StageChat && rec.Stage != candidate.StageSeek:
		out.Reason = fmt.Sprintf("moved to %s", rec.Stage)
	case !rec.UpdatedAt.Before(r.now().Add(-r.cfg.FollowUpAfter)):
		out.Reason = "updated since listing"
	case rec.ChatID == "":
		out.Reason = "no chat to follow up in"
	}
	if out.Reason != "" {
		out.Status = StatusSkipped
		log.Info("skipping candidate", zap.String("reason", out.Reason))
		return out, nil
	}

	text, err := r.deps.Assistant.Generate(ctx, rec.ConversationRef, ai.PurposeFollowup, r.request(rec, ""))
	if err != nil {
		return r.failed(out, log, fmt.Errorf("generate %s message: %w", ai.PurposeFollowup, err))
	}
	if err := r.deps.Platform.SendMessage(ctx, rec.ChatID, text); err != nil {
		return r.failed(out, log, fmt.Errorf("send follow-up: %w", err))
	}
	out.Actions = append(out.Actions, ActionFollowUp)

	// touching the record restarts its follow-up timer
	saved, err := r.deps.Store.Upsert(ctx, &candidate.Record{CandidateID: rec.CandidateID})
	if err != nil {
		return r.failed(out, log, fatal(fmt.Errorf("save candidate %s: %w", rec.CandidateID, err)))
	}

	out.fill(saved)
	out.Status = StatusOK
	log.Info("candidate followed up", zap.String("stage", string(saved.Stage)))
	return out, nil
}
