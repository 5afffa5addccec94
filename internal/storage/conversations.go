package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/spigell/hr-assistant/internal/ai"
)

type conversationRow struct {
	Ref       string    `gorm:"column:ref;primaryKey;size:36"`
	Candidate string    `gorm:"column:candidate"`
	Job       string    `gorm:"column:job"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (conversationRow) TableName() string {
	return "conversations"
}

type turnRow struct {
	ID              uint      `gorm:"column:id;primaryKey;autoIncrement"`
	ConversationRef string    `gorm:"column:conversation_ref;not null;index:idx_turns_conversation_seq,priority:1"`
	Seq             int       `gorm:"column:seq;not null;index:idx_turns_conversation_seq,priority:2"`
	Role            string    `gorm:"column:role;not null"`
	Purpose         string    `gorm:"column:purpose"`
	Text            string    `gorm:"column:text;type:text"`
	CreatedAt       time.Time `gorm:"column:created_at"`
}

func (turnRow) TableName() string {
	return "conversation_turns"
}

// ConversationStore implements ai.HistoryStore on gorm.
type ConversationStore struct {
	db *gorm.DB
}

var _ ai.HistoryStore = (*ConversationStore)(nil)

func NewConversationStore(db *gorm.DB) *ConversationStore {
	return &ConversationStore{db: db}
}

func (s *ConversationStore) Start(ctx context.Context, conv *ai.Conversation) error {
	if conv == nil || conv.Ref == "" {
		return errors.New("conversation ref is required")
	}

	createdAt := conv.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := &conversationRow{Ref: conv.Ref, Candidate: conv.Candidate, Job: conv.Job, CreatedAt: createdAt.UTC()}
		if err := tx.Create(row).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return fmt.Errorf("conversation %s already exists", conv.Ref)
			}
			return fmt.Errorf("create conversation %s: %w", conv.Ref, err)
		}
		return insertTurns(tx, conv.Ref, 0, conv.Turns)
	})
}

func (s *ConversationStore) Load(ctx context.Context, ref string) (*ai.Conversation, error) {
	db := s.db.WithContext(ctx)

	var row conversationRow
	err := db.Where("ref = ?", ref).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ai.ErrConversationNotFound, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation %s: %w", ref, err)
	}

	var turns []turnRow
	if err := db.Where("conversation_ref = ?", ref).Order("seq ASC").Find(&turns).Error; err != nil {
		return nil, fmt.Errorf("load turns of %s: %w", ref, err)
	}

	conv := &ai.Conversation{
		Ref:       row.Ref,
		Candidate: row.Candidate,
		Job:       row.Job,
		CreatedAt: row.CreatedAt.UTC(),
		Turns:     make([]ai.Turn, 0, len(turns)),
	}
	for _, t := range turns {
		conv.Turns = append(conv.Turns, ai.Turn{
			Role:      ai.Role(t.Role),
			Text:      t.Text,
			Purpose:   ai.Purpose(t.Purpose),
			CreatedAt: t.CreatedAt.UTC(),
		})
	}
	return conv, nil
}

func (s *ConversationStore) Append(ctx context.Context, ref string, turns ...ai.Turn) error {
	if len(turns) == 0 {
		return nil
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&conversationRow{}).Where("ref = ?", ref).Count(&count).Error; err != nil {
			return fmt.Errorf("check conversation %s: %w", ref, err)
		}
		if count == 0 {
			return fmt.Errorf("%w: %s", ai.ErrConversationNotFound, ref)
		}

		var next int
		if err := tx.Model(&turnRow{}).
			Where("conversation_ref = ?", ref).
			Select("COALESCE(MAX(seq), 0)").
			Scan(&next).Error; err != nil {
			return fmt.Errorf("next turn of %s: %w", ref, err)
		}

		return insertTurns(tx, ref, next, turns)
	})
}

func insertTurns(tx *gorm.DB, ref string, after int, turns []ai.Turn) error {
	if len(turns) == 0 {
		return nil
	}

	rows := make([]turnRow, 0, len(turns))
	for i, t := range turns {
		createdAt := t.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		rows = append(rows, turnRow{
			ConversationRef: ref,
			Seq:             after + i + 1,
			Role:            string(t.Role),
			Purpose:         string(t.Purpose),
			Text:            t.Text,
			CreatedAt:       createdAt.UTC(),
		})
	}

	if err := tx.Create(&rows).Error; err != nil {
		return fmt.Errorf("append turns to %s: %w", ref, err)
	}
	return nil
}
