package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/hr-assistant/internal/ai"
	"github.com/spigell/hr-assistant/internal/boss"
	"github.com/spigell/hr-assistant/internal/candidate"
	"github.com/spigell/hr-assistant/internal/notify"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type fakePlatform struct {
	mu sync.Mutex

	recommendations []boss.Recommendation
	chats           map[string][]boss.Chat

	resumes     map[string]string // by Ref.String()
	fullResumes map[string]string // by chat id
	contacts    map[string]*boss.Contact
	failResume  map[string]error
	failSend    error

	calls []string
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		chats:       make(map[string][]boss.Chat),
		resumes:     make(map[string]string),
		fullResumes: make(map[string]string),
		contacts:    make(map[string]*boss.Contact),
		failResume:  make(map[string]error),
	}
}

func (p *fakePlatform) record(call string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, call)
}

func (p *fakePlatform) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

// count returns how many calls start with prefix.
func (p *fakePlatform) count(prefix string) int {
	n := 0
	for _, c := range p.Calls() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (p *fakePlatform) indexOf(call string) int {
	for i, c := range p.Calls() {
		if c == call {
			return i
		}
	}
	return -1
}

func (p *fakePlatform) ListRecommendations(_ context.Context, job string) ([]boss.Recommendation, error) {
	p.record("list_recommendations " + job)
	return p.recommendations, nil
}

func (p *fakePlatform) ListChats(_ context.Context, tab, status string) ([]boss.Chat, error) {
	p.record("list_chats " + tab + "/" + status)
	return p.chats[tab], nil
}

func (p *fakePlatform) FetchOnlineResume(_ context.Context, ref boss.Ref) (*boss.Resume, error) {
	p.record("fetch_resume " + ref.String())
	if err := p.failResume[ref.String()]; err != nil {
		return nil, err
	}
	text, ok := p.resumes[ref.String()]
	if !ok {
		return nil, fmt.Errorf("no resume for %s", ref)
	}
	return &boss.Resume{Text: text}, nil
}

func (p *fakePlatform) FetchFullResume(_ context.Context, chatID string) (*boss.Resume, error) {
	p.record("fetch_full_resume " + chatID)
	text, ok := p.fullResumes[chatID]
	if !ok {
		return nil, fmt.Errorf("no full resume for %s", chatID)
	}
	return &boss.Resume{Text: text}, nil
}

func (p *fakePlatform) IsFullResumeAvailable(_ context.Context, chatID string) (bool, error) {
	p.record("is_full_resume_available " + chatID)
	_, ok := p.fullResumes[chatID]
	return ok, nil
}

func (p *fakePlatform) RequestFullResume(_ context.Context, chatID string) error {
	p.record("request_full_resume " + chatID)
	return nil
}

func (p *fakePlatform) FetchContact(_ context.Context, chatID string) (*boss.Contact, error) {
	p.record("fetch_contact " + chatID)
	return p.contacts[chatID], nil
}

func (p *fakePlatform) SendMessage(_ context.Context, chatID, text string) error {
	p.record("send " + chatID + " " + text)
	return p.failSend
}

func (p *fakePlatform) Greet(_ context.Context, ref boss.Ref, text string) error {
	p.record("greet " + ref.String() + " " + text)
	return nil
}

func (p *fakePlatform) Discard(_ context.Context, ref boss.Ref) error {
	p.record("discard " + ref.String())
	return nil
}

// fakeAssistant scores résumés from a lookup table and echoes the purpose as message text.
type fakeAssistant struct {
	mu sync.Mutex

	scores      map[string]float64
	failAnalyze map[string]error
	onAnalyze   func(resume string)

	analyzed     []string
	generated    []ai.Purpose
	conversation int
}

func newFakeAssistant() *fakeAssistant {
	return &fakeAssistant{scores: make(map[string]float64), failAnalyze: make(map[string]error)}
}

func (a *fakeAssistant) Analyze(_ context.Context, _ string, resume string, _ ai.Job) (*candidate.Analysis, error) {
	if a.onAnalyze != nil {
		a.onAnalyze(resume)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.analyzed = append(a.analyzed, resume)
	if err := a.failAnalyze[resume]; err != nil {
		return nil, err
	}
	analysis := &candidate.Analysis{Summary: "summary of " + resume, AnalyzedAt: testNow}
	if v, ok := a.scores[resume]; ok {
		analysis.Overall = &v
	}
	return analysis, nil
}

func (a *fakeAssistant) Generate(_ context.Context, _ string, purpose ai.Purpose, _ ai.Request) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.generated = append(a.generated, purpose)
	return "msg:" + string(purpose), nil
}

func (a *fakeAssistant) InitConversation(_ context.Context, name string, _ ai.Job) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.conversation++
	return fmt.Sprintf("conv-%d-%s", a.conversation, name), nil
}

func (a *fakeAssistant) analyzeCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.analyzed)
}

type fakeNotifier struct {
	mu        sync.Mutex
	summaries []notify.Summary
	err       error
}

func (n *fakeNotifier) NotifyHR(_ context.Context, s notify.Summary) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.summaries = append(n.summaries, s)
	return n.err
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.summaries)
}

// countingStore wraps a candidate.Store and counts upserts. It can fail on demand.
type countingStore struct {
	candidate.Store

	mu        sync.Mutex
	upserts   []*candidate.Record
	failRead  error
	failWrite error
}

func (s *countingStore) Upsert(ctx context.Context, rec *candidate.Record) (*candidate.Record, error) {
	s.mu.Lock()
	s.upserts = append(s.upserts, rec.Clone())
	fail := s.failWrite
	s.mu.Unlock()
	if fail != nil {
		return nil, fail
	}
	return s.Store.Upsert(ctx, rec)
}

func (s *countingStore) GetByChatID(ctx context.Context, chatID string) (*candidate.Record, error) {
	if s.failRead != nil {
		return nil, s.failRead
	}
	return s.Store.GetByChatID(ctx, chatID)
}

func (s *countingStore) upsertCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.upserts)
}

type fixture struct {
	platform  *fakePlatform
	assistant *fakeAssistant
	notifier  *fakeNotifier
	memory    *candidate.MemoryStore
	store     *countingStore
	runner    *Runner
	now       time.Time
}

func newFixture(t *testing.T, mutate ...func(*Config)) *fixture {
	t.Helper()

	f := &fixture{
		platform:  newFakePlatform(),
		assistant: newFakeAssistant(),
		notifier:  &fakeNotifier{},
		now:       testNow,
	}
	f.memory = candidate.NewMemoryStore(func() time.Time { return f.now })
	f.store = &countingStore{Store: f.memory}

	cfg := Config{
		Job:        ai.Job{Title: "Go Engineer", Description: "Build services"},
		Thresholds: candidate.DefaultThresholds(),
	}
	for _, m := range mutate {
		m(&cfg)
	}

	runner, err := NewRunner(cfg, Deps{
		Store:     f.store,
		Platform:  f.platform,
		Assistant: f.assistant,
		Notifier:  f.notifier,
		Logger:    zap.NewNop(),
		Now:       func() time.Time { return f.now },
	})
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	f.runner = runner
	return f
}

// seed stores a record as an earlier run would have left it.
func (f *fixture) seed(t *testing.T, rec *candidate.Record, at time.Time) *candidate.Record {
	t.Helper()

	saved := f.now
	f.now = at
	defer func() { f.now = saved }()

	stored, err := f.memory.Upsert(context.Background(), rec)
	if err != nil {
		t.Fatalf("seed %s: %v", rec.Name, err)
	}
	return stored
}

func analysisOf(resume string, overall float64) *candidate.Analysis {
	return &candidate.Analysis{
		Overall:      &overall,
		Summary:      "summary of " + resume,
		ResumeDigest: candidate.Digest(resume),
		AnalyzedAt:   testNow.Add(-48 * time.Hour),
	}
}

var errBoom = errors.New("boom")
