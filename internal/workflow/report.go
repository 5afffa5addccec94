package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/spigell/hr-assistant/internal/candidate"
)

// Status is the result of one candidate in a run.
type Status string

const (
	StatusOK        Status = "ok"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Step describes how the source list was narrowed before processing.
type Step struct {
	Initial int `json:"initial" yaml:"initial"`
	Dropped int `json:"dropped" yaml:"dropped"`
	Left    int `json:"left" yaml:"left"`
}

// Outcome is the run log row of one candidate.
type Outcome struct {
	Workflow        Kind            `json:"workflow" yaml:"workflow"`
	CandidateID     string          `json:"candidate_id,omitempty" yaml:"candidate_id,omitempty"`
	ChatID          string          `json:"chat_id,omitempty" yaml:"chat_id,omitempty"`
	Name            string          `json:"name,omitempty" yaml:"name,omitempty"`
	Overall         *float64        `json:"overall,omitempty" yaml:"overall,omitempty"`
	Summary         string          `json:"summary,omitempty" yaml:"summary,omitempty"`
	PreviousStage   candidate.Stage `json:"previous_stage,omitempty" yaml:"previous_stage,omitempty"`
	Stage           candidate.Stage `json:"stage,omitempty" yaml:"stage,omitempty"`
	Actions         []Action        `json:"actions,omitempty" yaml:"actions,omitempty"`
	ConversationRef string          `json:"conversation_ref,omitempty" yaml:"conversation_ref,omitempty"`
	Status          Status          `json:"status" yaml:"status"`
	Reason          string          `json:"reason,omitempty" yaml:"reason,omitempty"`
	Error           string          `json:"error,omitempty" yaml:"error,omitempty"`
}

func (o *Outcome) fill(rec *candidate.Record) {
	o.CandidateID = rec.CandidateID
	o.ChatID = rec.ChatID
	o.Name = rec.Name
	o.Stage = rec.Stage
	o.ConversationRef = rec.ConversationRef
	if rec.Analysis != nil {
		if rec.Analysis.Overall != nil {
			overall := *rec.Analysis.Overall
			o.Overall = &overall
		}
		o.Summary = rec.Analysis.Summary
	}
}

func actionNames(actions []Action) []string {
	names := make([]string, 0, len(actions))
	for _, a := range actions {
		names = append(names, string(a))
	}
	return names
}

// Report is the run log of one batch.
type Report struct {
	Workflow   Kind      `json:"workflow" yaml:"workflow"`
	Job        string    `json:"job" yaml:"job"`
	StartedAt  time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time `json:"finished_at" yaml:"finished_at"`
	Source     Step      `json:"source" yaml:"source"`
	Outcomes   []Outcome `json:"outcomes" yaml:"outcomes"`
}

// Totals counts outcomes by status and resulting stage.
type Totals struct {
	OK        int                     `json:"ok" yaml:"ok"`
	Skipped   int                     `json:"skipped" yaml:"skipped"`
	Failed    int                     `json:"failed" yaml:"failed"`
	Cancelled int                     `json:"cancelled" yaml:"cancelled"`
	Stages    map[candidate.Stage]int `json:"stages,omitempty" yaml:"stages,omitempty"`
}

func (r *Report) Totals() Totals {
	totals := Totals{Stages: make(map[candidate.Stage]int)}
	for _, o := range r.Outcomes {
		switch o.Status {
		case StatusOK:
			totals.OK++
			totals.Stages[o.Stage]++
		case StatusSkipped:
			totals.Skipped++
		case StatusFailed:
			totals.Failed++
		case StatusCancelled:
			totals.Cancelled++
		}
	}
	return totals
}

// Failures returns the failed outcomes.
func (r *Report) Failures() []Outcome {
	var failed []Outcome
	for _, o := range r.Outcomes {
		if o.Status == StatusFailed {
			failed = append(failed, o)
		}
	}
	return failed
}

// WriteFile stores the report as JSON when path ends in .json and as YAML otherwise.
func (r *Report) WriteFile(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return fmt.Errorf("report path is empty")
	}

	var (
		data []byte
		err  error
	)
	if strings.EqualFold(filepath.Ext(path), ".json") {
		data, err = json.MarshalIndent(r, "", "  ")
	} else {
		data, err = yaml.Marshal(r)
	}
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create report directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write report %s: %w", path, err)
	}
	return nil
}
