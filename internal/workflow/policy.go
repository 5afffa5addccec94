package workflow

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/hr-assistant/internal/ai"
	"github.com/spigell/hr-assistant/internal/boss"
	"github.com/spigell/hr-assistant/internal/candidate"
	"github.com/spigell/hr-assistant/internal/notify"
)

// Action is a side effect performed for a candidate during a run.
type Action string

const (
	ActionFetchResume     Action = "fetch_resume"
	ActionFetchFullResume Action = "fetch_full_resume"
	ActionAnalyze         Action = "analyze"
	ActionGreet           Action = "greet"
	ActionReply           Action = "reply"
	ActionRequestContact  Action = "request_contact"
	ActionRequestResume   Action = "request_full_resume"
	ActionFollowUp        Action = "follow_up"
	ActionDiscard         Action = "discard"
	ActionNotify          Action = "notify_hr"
)

// step is one planned stage action. Steps with a purpose send a generated message.
type step struct {
	action  Action
	purpose ai.Purpose
}

func (s step) sendsMessage() bool {
	return s.purpose != ""
}

// plan decides the stage actions for the freshly classified record. At most
// one message is sent per candidate and run, and PASS never sends one.
func plan(s *state) []step {
	next := s.rec.Stage
	transitioned := s.prev == nil || s.prev.Stage != next
	inbound := strings.TrimSpace(s.task.inbound)
	unanswered := inbound != "" && inbound != strings.TrimSpace(s.rec.LastInbound)

	switch next {
	case candidate.StagePass:
		if transitioned {
			return []step{{action: ActionDiscard}}
		}
		return nil

	case candidate.StageWaitingList:
		return nil

	case candidate.StageChat, candidate.StageSeek:
		switch s.kind {
		case KindRecommend:
			if notGreeted(s.prev) {
				return []step{{action: ActionGreet, purpose: ai.PurposeGreet}}
			}
			return nil

		case KindGreet:
			if transitioned && next == candidate.StageChat {
				return []step{{action: ActionGreet, purpose: ai.PurposeGreet}}
			}
			if transitioned {
				return []step{{action: ActionRequestContact, purpose: ai.PurposeContact}}
			}

		case KindChat:
			if transitioned && next == candidate.StageSeek {
				steps := []step{{action: ActionRequestContact, purpose: ai.PurposeContact}}
				if strings.TrimSpace(s.rec.FullResume) == "" {
					steps = append([]step{{action: ActionRequestResume}}, steps...)
				}
				return steps
			}
			if transitioned {
				return []step{{action: ActionReply, purpose: ai.PurposeChat}}
			}
		}

		if unanswered {
			return []step{{action: ActionReply, purpose: ai.PurposeChat}}
		}
		return nil

	case candidate.StageContact:
		var steps []step
		if unanswered && s.kind != KindRecommend {
			steps = append(steps, step{action: ActionReply, purpose: ai.PurposeChat})
		}
		if transitioned {
			steps = append(steps, step{action: ActionNotify})
		}
		return steps

	default:
		return nil
	}
}

// notGreeted reports whether the platform greeting is still due for a recommendation.
func notGreeted(prev *candidate.Record) bool {
	return prev == nil || prev.Stage.Tier() < candidate.StageChat.Tier()
}

// perform executes the planned steps in order. Notifications are best-effort,
// every other failure aborts the candidate.
func (r *Runner) perform(ctx context.Context, s *state, steps []step) error {
	for _, st := range steps {
		if st.sendsMessage() && s.rec.Stage == candidate.StagePass {
			return fmt.Errorf("refusing to message a %s candidate", candidate.StagePass)
		}

		var text string
		if st.sendsMessage() {
			var err error
			text, err = r.deps.Assistant.Generate(ctx, s.rec.ConversationRef, st.purpose, r.request(s.rec, s.task.inbound))
			if err != nil {
				return fmt.Errorf("generate %s message: %w", st.purpose, err)
			}
			if strings.TrimSpace(text) == "" {
				return fmt.Errorf("generate %s message: empty text", st.purpose)
			}
		}

		switch st.action {
		case ActionDiscard:
			if err := r.deps.Platform.Discard(ctx, s.ref()); err != nil {
				return fmt.Errorf("discard: %w", err)
			}

		case ActionGreet:
			if err := r.deps.Platform.Greet(ctx, s.ref(), text); err != nil {
				return fmt.Errorf("greet: %w", err)
			}

		case ActionReply, ActionRequestContact:
			if s.rec.ChatID == "" {
				return fmt.Errorf("%s: candidate has no chat", st.action)
			}
			if err := r.deps.Platform.SendMessage(ctx, s.rec.ChatID, text); err != nil {
				return fmt.Errorf("%s: %w", st.action, err)
			}

		case ActionRequestResume:
			if err := r.deps.Platform.RequestFullResume(ctx, s.rec.ChatID); err != nil {
				return fmt.Errorf("request full resume: %w", err)
			}

		case ActionNotify:
			if err := r.deps.Notifier.NotifyHR(ctx, summaryOf(s.rec)); err != nil {
				s.log.Warn("notifying hr failed", zap.Error(err))
				continue
			}

		default:
			return fmt.Errorf("unsupported action %q", st.action)
		}

		if st.sendsMessage() && strings.TrimSpace(s.task.inbound) != "" {
			s.rec.LastInbound = strings.TrimSpace(s.task.inbound)
		}
		s.act(st.action)
		s.log.Info("action performed", zap.String("action", string(st.action)), zap.String("ref", s.ref().String()))
	}
	return nil
}

func summaryOf(rec *candidate.Record) notify.Summary {
	summary := notify.Summary{
		CandidateID: rec.CandidateID,
		ChatID:      rec.ChatID,
		Name:        rec.Name,
		Job:         rec.JobApplied,
		Source:      string(rec.StageSource),
	}
	if rec.Contact != nil {
		summary.Phone = rec.Contact.Phone
		summary.WeChat = rec.Contact.WeChat
		summary.CapturedAt = rec.Contact.CapturedAt
	}
	if rec.Analysis != nil {
		summary.Overall = rec.Analysis.Overall
		summary.Summary = rec.Analysis.Summary
	}
	return summary
}

// refFor is the platform address of a stored record.
func refFor(rec *candidate.Record) (boss.Ref, bool) {
	if rec.ChatID == "" {
		return boss.Ref{}, false
	}
	return boss.Ref{ChatID: rec.ChatID}, true
}
