package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/hr-assistant/internal/candidate"
	"github.com/spigell/hr-assistant/internal/lock"
	"github.com/spigell/hr-assistant/internal/logger"
)

// Discard forces the candidate to PASS regardless of its analysis. Captured
// contact details are revoked so they no longer force CONTACT.
func (r *Runner) Discard(ctx context.Context, candidateID, reason string) (*candidate.Record, error) {
	rec, release, err := r.lockStored(ctx, candidateID)
	if err != nil {
		return nil, err
	}
	defer release()

	log := logger.WithFields(r.logger, logger.CandidateFields(rec.CandidateID, rec.ChatID, rec.Name)...)

	if ref, ok := refFor(rec); ok {
		if err := r.deps.Platform.Discard(ctx, ref); err != nil {
			return nil, fmt.Errorf("discard %s: %w", ref, err)
		}
	}

	update := &candidate.Record{
		CandidateID: rec.CandidateID,
		Stage:       candidate.StagePass,
		StageSource: candidate.SourceDiscard,
	}
	if rec.Contact != nil {
		contact := *rec.Contact
		contact.Revoked = true
		update.Contact = &contact
	}

	saved, err := r.deps.Store.Upsert(ctx, update)
	if err != nil {
		return nil, fmt.Errorf("save candidate %s: %w", rec.CandidateID, err)
	}

	log.Info("candidate discarded",
		zap.String("previous_stage", string(rec.Stage)),
		zap.String("reason", strings.TrimSpace(reason)),
	)
	return saved, nil
}

// CaptureContact records contact details obtained outside the chat and moves
// the candidate to CONTACT. HR is notified when the stage changes.
func (r *Runner) CaptureContact(ctx context.Context, candidateID string, contact candidate.Contact) (*candidate.Record, error) {
	contact.Phone = strings.TrimSpace(contact.Phone)
	contact.WeChat = strings.TrimSpace(contact.WeChat)
	contact.Revoked = false
	if !contact.Captured() {
		return nil, errors.New("phone or wechat is required")
	}
	if contact.CapturedAt.IsZero() {
		contact.CapturedAt = r.now()
	}

	rec, release, err := r.lockStored(ctx, candidateID)
	if err != nil {
		return nil, err
	}
	defer release()

	log := logger.WithFields(r.logger, logger.CandidateFields(rec.CandidateID, rec.ChatID, rec.Name)...)

	saved, err := r.deps.Store.Upsert(ctx, &candidate.Record{
		CandidateID: rec.CandidateID,
		Stage:       candidate.StageContact,
		StageSource: candidate.SourceContact,
		Contact:     &contact,
	})
	if err != nil {
		return nil, fmt.Errorf("save candidate %s: %w", rec.CandidateID, err)
	}

	log.Info("contact captured", zap.String("previous_stage", string(rec.Stage)))

	if rec.Stage != candidate.StageContact {
		if err := r.deps.Notifier.NotifyHR(ctx, summaryOf(saved)); err != nil {
			log.Warn("notifying hr failed", zap.Error(err))
		}
	}
	return saved, nil
}

// lockStored loads a record and holds its candidate lock.
func (r *Runner) lockStored(ctx context.Context, candidateID string) (*candidate.Record, func(), error) {
	candidateID = strings.TrimSpace(candidateID)
	if candidateID == "" {
		return nil, nil, errors.New("candidate id is required")
	}

	rec, err := r.deps.Store.GetByCandidateID(ctx, candidateID)
	if err != nil {
		return nil, nil, err
	}

	release, err := r.deps.Locker.Acquire(ctx, candidateLock(rec.CandidateID))
	if errors.Is(err, lock.ErrHeld) {
		return nil, nil, fmt.Errorf("candidate %s is being processed by another run: %w", candidateID, err)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("acquire lock: %w", err)
	}

	// reload under the lock so a run that just finished is not overwritten
	rec, err = r.deps.Store.GetByCandidateID(ctx, candidateID)
	if err != nil {
		release()
		return nil, nil, err
	}
	return rec, release, nil
}
