package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/spigell/hr-assistant/internal/ai"
	"github.com/spigell/hr-assistant/internal/candidate"
	"github.com/spigell/hr-assistant/internal/logger"
	"github.com/spigell/hr-assistant/internal/utils"
)

const defaultMaxLogLength = 200

type contentGenerator interface {
	GenerateWithHistory(ctx context.Context, system string, history []*genai.Content, message string) (string, error)
}

// Assistant implements ai.Assistant on top of a Gemini chat generator.
type Assistant struct {
	generator contentGenerator
	history   ai.HistoryStore
	overrides PromptOverrides
	logger    *zap.Logger
	maxLogLen int
	now       func() time.Time
}

func NewAssistant(generator contentGenerator, history ai.HistoryStore, log *zap.Logger, maxLogLength int) *Assistant {
	if maxLogLength <= 0 {
		maxLogLength = defaultMaxLogLength
	}
	if log == nil {
		log = zap.NewNop()
	}
	if history == nil {
		history = ai.NewMemoryHistory()
	}

	return &Assistant{
		generator: generator,
		history:   history,
		logger:    log,
		maxLogLen: maxLogLength,
		now:       time.Now,
	}
}

func (a *Assistant) SetPromptOverrides(o PromptOverrides) {
	a.overrides = o
}

// InitConversation opens a new thread for the candidate and returns its ref.
func (a *Assistant) InitConversation(ctx context.Context, candidateName string, job ai.Job) (string, error) {
	ref := uuid.NewString()
	conv := &ai.Conversation{
		Ref:       ref,
		Candidate: strings.TrimSpace(candidateName),
		Job:       job.String(),
		CreatedAt: a.now().UTC(),
	}
	if err := a.history.Start(ctx, conv); err != nil {
		return "", fmt.Errorf("start conversation: %w", err)
	}

	a.logger.Debug("conversation started", zap.String("conversation_ref", ref), zap.String(logger.FieldName, conv.Candidate))
	return ref, nil
}

// Analyze scores the résumé within the candidate's conversation.
func (a *Assistant) Analyze(ctx context.Context, conversationRef, resume string, job ai.Job) (*candidate.Analysis, error) {
	resume = strings.TrimSpace(resume)
	if resume == "" {
		return nil, errors.New("resume must not be empty")
	}

	conv, err := a.loadConversation(ctx, conversationRef)
	if err != nil {
		return nil, err
	}

	prompt := render(analyzeTemplate, map[string]string{
		"JOB_TITLE":       orNone(strings.TrimSpace(job.Title)),
		"JOB_DESCRIPTION": orNone(strings.TrimSpace(job.Description)),
		"RESUME":          resume,
	})

	raw, err := a.generate(ctx, ai.PurposeAnalyze, conversationRef, nil, prompt)
	if err != nil {
		return nil, err
	}

	analysis, err := parseAnalysis(raw)
	if err != nil {
		return nil, err
	}
	analysis.ResumeDigest = candidate.Digest(resume)
	analysis.AnalyzedAt = a.now().UTC()

	if conv != nil {
		a.record(ctx, conversationRef, ai.PurposeAnalyze,
			"Analyse the candidate résumé for "+orNone(job.String())+".",
			analysisNote(analysis),
		)
	}

	return analysis, nil
}

// Generate drafts a message for purpose, replaying the conversation so far.
func (a *Assistant) Generate(ctx context.Context, conversationRef string, purpose ai.Purpose, req ai.Request) (string, error) {
	if purpose == ai.PurposeAnalyze {
		return "", fmt.Errorf("%w: use Analyze for %s", ai.ErrUnknownPurpose, purpose)
	}
	template, err := templateFor(purpose)
	if err != nil {
		return "", err
	}

	conv, err := a.loadConversation(ctx, conversationRef)
	if err != nil {
		return "", err
	}

	name := strings.TrimSpace(req.Candidate)
	if name == "" && conv != nil {
		name = conv.Candidate
	}

	var summary, followUps string
	if req.Analysis != nil {
		summary = req.Analysis.Summary
		followUps = "- " + strings.Join(req.Analysis.FollowUps, "\n- ")
		if len(req.Analysis.FollowUps) == 0 {
			followUps = ""
		}
	}

	prompt := render(template, map[string]string{
		"CANDIDATE":  orNone(name),
		"JOB_TITLE":  orNone(req.Job.String()),
		"SUMMARY":    orNone(strings.TrimSpace(summary)),
		"FOLLOW_UPS": orNone(followUps),
		"INBOUND":    orNone(strings.TrimSpace(req.Inbound)),
	})

	var history []*genai.Content
	if conv != nil {
		history = toContents(conv.Turns)
	}

	message, err := a.generate(ctx, purpose, conversationRef, history, prompt)
	if err != nil {
		return "", err
	}

	if conv != nil {
		a.record(ctx, conversationRef, purpose, prompt, message)
	}
	return message, nil
}

func (a *Assistant) generate(ctx context.Context, purpose ai.Purpose, ref string, history []*genai.Content, prompt string) (string, error) {
	a.logger.Debug("gemini generate content request",
		zap.String("purpose", string(purpose)),
		zap.String("conversation_ref", ref),
		zap.Int("history_turns", len(history)),
		zap.Int("prompt_length", utf8.RuneCountInString(prompt)),
		zap.String("prompt_preview", utils.TruncateForLog(prompt, a.maxLogLen)),
	)

	raw, err := a.generator.GenerateWithHistory(ctx, systemPrompt(a.overrides), history, prompt)
	if err != nil {
		return "", fmt.Errorf("%s: %w", purpose, err)
	}

	a.logger.Debug("gemini generate content response",
		zap.String("purpose", string(purpose)),
		zap.String("conversation_ref", ref),
		zap.Int("response_length", utf8.RuneCountInString(raw)),
		zap.String("response_preview", utils.TruncateForLog(raw, a.maxLogLen)),
	)

	return raw, nil
}

// loadConversation returns nil without error when ref is empty.
func (a *Assistant) loadConversation(ctx context.Context, ref string) (*ai.Conversation, error) {
	if strings.TrimSpace(ref) == "" {
		return nil, nil
	}
	conv, err := a.history.Load(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("load conversation %s: %w", ref, err)
	}
	return conv, nil
}

// record appends the exchange to the thread. Failures are logged only.
func (a *Assistant) record(ctx context.Context, ref string, purpose ai.Purpose, prompt, reply string) {
	now := a.now().UTC()
	err := a.history.Append(ctx, ref,
		ai.Turn{Role: ai.RoleUser, Text: prompt, Purpose: purpose, CreatedAt: now},
		ai.Turn{Role: ai.RoleModel, Text: reply, Purpose: purpose, CreatedAt: now},
	)
	if err != nil {
		a.logger.Warn("failed to record conversation turn", zap.String("conversation_ref", ref), zap.Error(err))
	}
}

func toContents(turns []ai.Turn) []*genai.Content {
	contents := make([]*genai.Content, 0, len(turns))
	for _, turn := range turns {
		if strings.TrimSpace(turn.Text) == "" {
			continue
		}
		var role genai.Role = genai.RoleUser
		if turn.Role == ai.RoleModel {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(turn.Text, role))
	}
	return contents
}

func analysisNote(a *candidate.Analysis) string {
	var b strings.Builder
	if a.Overall != nil {
		fmt.Fprintf(&b, "Overall score: %.1f/10.\n", *a.Overall)
	} else {
		b.WriteString("Overall score: unknown.\n")
	}
	if a.Summary != "" {
		b.WriteString(a.Summary)
		b.WriteString("\n")
	}
	for _, q := range a.FollowUps {
		b.WriteString("- ")
		b.WriteString(q)
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

// parseAnalysis reads the model's JSON answer. A missing or non-numeric overall
// leaves Overall nil so the candidate classifies as PASS.
func parseAnalysis(raw string) (*candidate.Analysis, error) {
	cleaned := extractJSON(raw)
	if !gjson.Valid(cleaned) {
		return nil, fmt.Errorf("parse gemini response: invalid json: %s", utils.TruncateForLog(raw, defaultMaxLogLength))
	}

	result := gjson.Parse(cleaned)
	if !result.IsObject() {
		return nil, errors.New("parse gemini response: expected a json object")
	}

	analysis := &candidate.Analysis{
		Summary: strings.TrimSpace(result.Get("summary").String()),
	}

	if overall, ok := number(result.Get("overall")); ok {
		analysis.Overall = &overall
	}

	result.Get("scores").ForEach(func(key, value gjson.Result) bool {
		if v, ok := number(value); ok {
			if analysis.Scores == nil {
				analysis.Scores = make(map[string]float64)
			}
			analysis.Scores[key.String()] = v
		}
		return true
	})

	for _, q := range result.Get("follow_ups").Array() {
		if text := strings.TrimSpace(q.String()); text != "" {
			analysis.FollowUps = append(analysis.FollowUps, text)
		}
	}

	return analysis, nil
}

func number(v gjson.Result) (float64, bool) {
	switch v.Type {
	case gjson.Number:
		return v.Float(), true
	case gjson.String:
		s := strings.TrimSpace(v.Str)
		if s == "" || !gjson.Valid(s) {
			return 0, false
		}
		parsed := gjson.Parse(s)
		if parsed.Type != gjson.Number {
			return 0, false
		}
		return parsed.Float(), true
	default:
		return 0, false
	}
}

func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSpace(raw)
		if idx := strings.LastIndex(raw, "```"); idx != -1 {
			raw = raw[:idx]
		}
	}
	raw = strings.Trim(raw, "`")
	return strings.TrimSpace(raw)
}
