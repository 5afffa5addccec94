package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/spigell/hr-assistant/internal/candidate"
)

type candidateRow struct {
	CandidateID     string           `gorm:"column:candidate_id;primaryKey;size:36"`
	ChatID          *string          `gorm:"column:chat_id;uniqueIndex"`
	Name            string           `gorm:"column:name;index:idx_candidates_name_job"`
	JobApplied      string           `gorm:"column:job_applied;index:idx_candidates_name_job"`
	ResumeText      string           `gorm:"column:resume_text;type:text"`
	FullResume      string           `gorm:"column:full_resume;type:text"`
	ConversationRef string           `gorm:"column:conversation_ref"`
	Analysis        datatypes.JSON   `gorm:"column:analysis"`
	Stage           string           `gorm:"column:stage;not null;index:idx_candidates_stage_updated,priority:1"`
	StageSource     string           `gorm:"column:stage_source"`
	Contact         datatypes.JSON   `gorm:"column:contact"`
	LastInbound     string           `gorm:"column:last_inbound;type:text"`
	Embedding       *pgvector.Vector `gorm:"column:embedding;type:vector"`
	CreatedAt       time.Time        `gorm:"column:created_at;autoCreateTime:false"`
	UpdatedAt       time.Time        `gorm:"column:updated_at;autoUpdateTime:false;index:idx_candidates_stage_updated,priority:2"`
}

func (candidateRow) TableName() string {
	return "candidates"
}

// SearchResult is a candidate ranked by résumé embedding distance.
type SearchResult struct {
	Record   *candidate.Record
	Distance float64
}

// CandidateStore implements candidate.Store on gorm.
type CandidateStore struct {
	db         *gorm.DB
	dimensions int
	now        func() time.Time
}

var _ candidate.Store = (*CandidateStore)(nil)

func NewCandidateStore(db *gorm.DB, dimensions int) *CandidateStore {
	if dimensions <= 0 {
		dimensions = DefaultEmbeddingDimensions
	}
	return &CandidateStore{db: db, dimensions: dimensions, now: time.Now}
}

func (s *CandidateStore) GetByCandidateID(ctx context.Context, candidateID string) (*candidate.Record, error) {
	return s.first(s.db.WithContext(ctx).Where("candidate_id = ?", candidateID), "candidate "+candidateID)
}

func (s *CandidateStore) GetByChatID(ctx context.Context, chatID string) (*candidate.Record, error) {
	if chatID == "" {
		return nil, fmt.Errorf("%w: empty chat id", candidate.ErrNotFound)
	}
	return s.first(s.db.WithContext(ctx).Where("chat_id = ?", chatID), "chat "+chatID)
}

// FindByNameAndJob returns the most recently updated record for the pair.
func (s *CandidateStore) FindByNameAndJob(ctx context.Context, name, job string) (*candidate.Record, error) {
	q := s.db.WithContext(ctx).
		Where("name = ? AND job_applied = ?", name, job).
		Order("updated_at DESC")
	return s.first(q, fmt.Sprintf("%s for %s", name, job))
}

// Upsert merges the record into the stored one inside a transaction.
func (s *CandidateStore) Upsert(ctx context.Context, record *candidate.Record) (*candidate.Record, error) {
	if record == nil {
		return nil, errors.New("record is required")
	}
	if err := s.checkEmbedding(record.Embedding); err != nil {
		return nil, err
	}

	var saved *candidate.Record
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked := tx
		if isPostgres(tx) {
			locked = tx.Clauses(clause.Locking{Strength: "UPDATE"})
		}

		var existing *candidate.Record
		var row candidateRow
		err := locked.Where("candidate_id = ?", record.CandidateID).Take(&row).Error
		switch {
		case err == nil:
			existing, err = fromRow(&row)
			if err != nil {
				return err
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
		default:
			return fmt.Errorf("load candidate %s: %w", record.CandidateID, err)
		}

		merged, err := candidate.Merge(existing, record, s.now().UTC())
		if err != nil {
			return err
		}

		if merged.ChatID != "" && (existing == nil || existing.ChatID != merged.ChatID) {
			var owner candidateRow
			err := tx.Select("candidate_id").Where("chat_id = ?", merged.ChatID).Take(&owner).Error
			switch {
			case err == nil && owner.CandidateID != merged.CandidateID:
				return fmt.Errorf("%w: chat %s belongs to candidate %s", candidate.ErrChatIDConflict, merged.ChatID, owner.CandidateID)
			case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
				return fmt.Errorf("check chat owner: %w", err)
			}
		}

		next, err := toRow(merged)
		if err != nil {
			return err
		}

		if existing == nil {
			err = tx.Create(next).Error
		} else {
			err = tx.Save(next).Error
		}
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: %v", candidate.ErrChatIDConflict, err)
		}
		if err != nil {
			return fmt.Errorf("save candidate %s: %w", merged.CandidateID, err)
		}

		saved = merged
		return nil
	})
	if err != nil {
		return nil, err
	}

	return saved, nil
}

// QueryStale returns records in stages untouched for longer than olderThan, oldest first.
func (s *CandidateStore) QueryStale(ctx context.Context, stages []candidate.Stage, olderThan time.Duration) ([]*candidate.Record, error) {
	if len(stages) == 0 {
		return nil, nil
	}

	names := make([]string, 0, len(stages))
	for _, stage := range stages {
		names = append(names, string(stage))
	}
	cutoff := s.now().UTC().Add(-olderThan)

	var rows []candidateRow
	err := s.db.WithContext(ctx).
		Where("stage IN ? AND updated_at < ?", names, cutoff).
		Order("updated_at ASC").
		Order("candidate_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query stale candidates: %w", err)
	}

	return fromRows(rows)
}

// Search returns the candidates whose résumé embedding is closest to vector.
func (s *CandidateStore) Search(ctx context.Context, vector []float32, limit int) ([]SearchResult, error) {
	if !isPostgres(s.db) {
		return nil, ErrSearchUnsupported
	}
	if err := s.checkEmbedding(vector); err != nil {
		return nil, err
	}
	if len(vector) == 0 {
		return nil, errors.New("search vector is empty")
	}
	if limit <= 0 {
		limit = 10
	}

	type scored struct {
		candidateRow
		Distance float64 `gorm:"column:distance"`
	}

	query := pgvector.NewVector(vector)
	var rows []scored
	err := s.db.WithContext(ctx).Raw(`
		SELECT *, embedding <-> ? AS distance
		FROM candidates
		WHERE embedding IS NOT NULL
		ORDER BY embedding <-> ?
		LIMIT ?
	`, query, query, limit).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("search candidates: %w", err)
	}

	results := make([]SearchResult, 0, len(rows))
	for i := range rows {
		rec, err := fromRow(&rows[i].candidateRow)
		if err != nil {
			return nil, err
		}
		results = append(results, SearchResult{Record: rec, Distance: rows[i].Distance})
	}
	return results, nil
}

func (s *CandidateStore) first(q *gorm.DB, what string) (*candidate.Record, error) {
	var row candidateRow
	err := q.Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", candidate.ErrNotFound, what)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", what, err)
	}
	return fromRow(&row)
}

func (s *CandidateStore) checkEmbedding(v []float32) error {
	if len(v) > 0 && len(v) != s.dimensions {
		return fmt.Errorf("embedding has %d dimensions, store expects %d", len(v), s.dimensions)
	}
	return nil
}

func toRow(r *candidate.Record) (*candidateRow, error) {
	row := &candidateRow{
		CandidateID:     r.CandidateID,
		Name:            r.Name,
		JobApplied:      r.JobApplied,
		ResumeText:      r.ResumeText,
		FullResume:      r.FullResume,
		ConversationRef: r.ConversationRef,
		Stage:           string(r.Stage),
		StageSource:     string(r.StageSource),
		LastInbound:     r.LastInbound,
		CreatedAt:       r.CreatedAt.UTC(),
		UpdatedAt:       r.UpdatedAt.UTC(),
	}

	if r.ChatID != "" {
		chatID := r.ChatID
		row.ChatID = &chatID
	}

	if r.Analysis != nil {
		data, err := json.Marshal(r.Analysis)
		if err != nil {
			return nil, fmt.Errorf("encode analysis: %w", err)
		}
		row.Analysis = datatypes.JSON(data)
	}

	if r.Contact != nil {
		data, err := json.Marshal(r.Contact)
		if err != nil {
			return nil, fmt.Errorf("encode contact: %w", err)
		}
		row.Contact = datatypes.JSON(data)
	}

	if len(r.Embedding) > 0 {
		v := pgvector.NewVector(r.Embedding)
		row.Embedding = &v
	}

	return row, nil
}

func fromRow(row *candidateRow) (*candidate.Record, error) {
	stage, err := candidate.ParseStage(row.Stage)
	if err != nil {
		return nil, fmt.Errorf("candidate %s: %w", row.CandidateID, err)
	}

	r := &candidate.Record{
		CandidateID:     row.CandidateID,
		Name:            row.Name,
		JobApplied:      row.JobApplied,
		ResumeText:      row.ResumeText,
		FullResume:      row.FullResume,
		ConversationRef: row.ConversationRef,
		Stage:           stage,
		StageSource:     candidate.StageSource(row.StageSource),
		LastInbound:     row.LastInbound,
		CreatedAt:       row.CreatedAt.UTC(),
		UpdatedAt:       row.UpdatedAt.UTC(),
	}
	if r.StageSource == "" {
		r.StageSource = candidate.SourceAnalysis
	}

	if row.ChatID != nil {
		r.ChatID = *row.ChatID
	}

	if len(row.Analysis) > 0 && string(row.Analysis) != "null" {
		var analysis candidate.Analysis
		if err := json.Unmarshal(row.Analysis, &analysis); err != nil {
			return nil, fmt.Errorf("decode analysis of %s: %w", row.CandidateID, err)
		}
		r.Analysis = &analysis
	}

	if len(row.Contact) > 0 && string(row.Contact) != "null" {
		var contact candidate.Contact
		if err := json.Unmarshal(row.Contact, &contact); err != nil {
			return nil, fmt.Errorf("decode contact of %s: %w", row.CandidateID, err)
		}
		r.Contact = &contact
	}

	if row.Embedding != nil {
		r.Embedding = row.Embedding.Slice()
	}

	return r, nil
}

func fromRows(rows []candidateRow) ([]*candidate.Record, error) {
	records := make([]*candidate.Record, 0, len(rows))
	for i := range rows {
		rec, err := fromRow(&rows[i])
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}
