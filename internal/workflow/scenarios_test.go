package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/spigell/hr-assistant/internal/boss"
	"github.com/spigell/hr-assistant/internal/candidate"
)

func TestRecommendNewStrongCandidateIsGreetedOnce(t *testing.T) {
	f := newFixture(t)
	f.platform.recommendations = []boss.Recommendation{{Index: 0, Name: "Li Lei", Title: "Backend"}}
	f.platform.resumes["recommendation:0"] = "resume li"
	f.assistant.scores["resume li"] = 9

	report, err := f.runner.Recommend(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(report.Outcomes) != 1 {
		t.Fatalf("expected 1 outcome, got %d", len(report.Outcomes))
	}
	out := report.Outcomes[0]
	if out.Status != StatusOK || out.Stage != candidate.StageSeek {
		t.Fatalf("expected ok/SEEK, got %s/%s (%s)", out.Status, out.Stage, out.Error)
	}
	if got := f.platform.count("greet recommendation:0 "); got != 1 {
		t.Fatalf("expected one greet, got %d: %v", got, f.platform.Calls())
	}
	if got := f.platform.count("send "); got != 0 {
		t.Fatalf("expected no chat messages, got %d", got)
	}
	if got := f.store.upsertCount(); got != 1 {
		t.Fatalf("expected one upsert, got %d", got)
	}
	if f.store.upserts[0].ChatID != "" {
		t.Fatalf("expected recommendation record without chat id, got %q", f.store.upserts[0].ChatID)
	}

	stored, err := f.memory.FindByNameAndJob(context.Background(), "Li Lei", "Go Engineer")
	if err != nil {
		t.Fatalf("find stored record: %v", err)
	}
	if stored.Stage != candidate.StageSeek || stored.Analysis == nil || stored.ConversationRef == "" {
		t.Fatalf("unexpected stored record: %+v", stored)
	}
}

func TestChatRecordRegressesToPassWithoutMessages(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.AnalysisMaxAge = 24 * time.Hour })
	f.seed(t, &candidate.Record{
		CandidateID:     "c-chat",
		ChatID:          "chat-1",
		Name:            "Han Mei",
		JobApplied:      "Go Engineer",
		ResumeText:      "old resume",
		ConversationRef: "conv-1",
		Analysis:        analysisOf("old resume", 7),
		Stage:           candidate.StageChat,
	}, testNow.Add(-2*time.Hour))

	f.platform.chats[boss.TabChatting] = []boss.Chat{{ChatID: "chat-1", Name: "Han Mei", LastMessage: "any news?"}}
	f.assistant.scores["old resume"] = 3

	report, err := f.runner.ActiveChat(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	out := report.Outcomes[0]
	if out.Stage != candidate.StagePass || out.PreviousStage != candidate.StageChat {
		t.Fatalf("expected CHAT -> PASS, got %s -> %s (%s)", out.PreviousStage, out.Stage, out.Error)
	}
	if got := f.platform.count("send ") + f.platform.count("greet "); got != 0 {
		t.Fatalf("PASS candidate must not be messaged, got %v", f.platform.Calls())
	}
	if got := f.platform.count("discard chat:chat-1"); got != 1 {
		t.Fatalf("expected one discard, got %d", got)
	}
	if len(f.assistant.generated) != 0 {
		t.Fatalf("no message should be generated for PASS, got %v", f.assistant.generated)
	}
}

func TestActiveChatFetchesFullResumeBeforeAnalysis(t *testing.T) {
	f := newFixture(t)
	f.seed(t, &candidate.Record{
		CandidateID:     "c-full",
		ChatID:          "chat-2",
		Name:            "Zhang Wei",
		JobApplied:      "Go Engineer",
		ResumeText:      "online resume",
		ConversationRef: "conv-2",
		Analysis:        analysisOf("online resume", 7),
		Stage:           candidate.StageChat,
	}, testNow.Add(-time.Hour))

	f.platform.chats[boss.TabChatting] = []boss.Chat{{ChatID: "chat-2", Name: "Zhang Wei", LastMessage: "sent my cv"}}
	f.platform.fullResumes["chat-2"] = "full resume with projects"
	f.assistant.scores["full resume with projects"] = 8.5

	report, err := f.runner.Run(context.Background(), KindChat)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if f.platform.indexOf("fetch_full_resume chat-2") < 0 {
		t.Fatalf("expected full resume fetch, got %v", f.platform.Calls())
	}
	if len(f.assistant.analyzed) != 1 || f.assistant.analyzed[0] != "full resume with projects" {
		t.Fatalf("expected re-analysis of the full resume, got %v", f.assistant.analyzed)
	}

	out := report.Outcomes[0]
	if out.Stage != candidate.StageSeek {
		t.Fatalf("expected SEEK, got %s (%s)", out.Stage, out.Error)
	}
	if f.platform.count("request_full_resume") != 0 {
		t.Fatalf("full resume is already attached, must not be requested")
	}
	if f.platform.count("send chat-2 msg:contact") != 1 {
		t.Fatalf("expected one contact request, got %v", f.platform.Calls())
	}

	stored, err := f.memory.GetByChatID(context.Background(), "chat-2")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if stored.FullResume != "full resume with projects" || stored.ResumeText != "online resume" {
		t.Fatalf("unexpected resumes: %q / %q", stored.ResumeText, stored.FullResume)
	}
	if stored.LastInbound != "sent my cv" {
		t.Fatalf("expected inbound to be marked answered, got %q", stored.LastInbound)
	}
}

func TestActiveChatRequestsMissingFullResumeOnSeek(t *testing.T) {
	f := newFixture(t)
	f.platform.chats[boss.TabChatting] = []boss.Chat{{ChatID: "chat-3", Name: "Liu Yang", LastMessage: "hello"}}
	f.platform.resumes["chat:chat-3"] = "strong online resume"
	f.assistant.scores["strong online resume"] = 9

	if _, err := f.runner.Run(context.Background(), KindChat); err != nil {
		t.Fatalf("run: %v", err)
	}

	request := f.platform.indexOf("request_full_resume chat-3")
	contact := f.platform.indexOf("send chat-3 msg:contact")
	if request < 0 || contact < 0 || request > contact {
		t.Fatalf("expected resume request then contact request, got %v", f.platform.Calls())
	}

	f.platform.chats[boss.TabChatting] = []boss.Chat{{ChatID: "chat-3", Name: "Liu Yang", LastMessage: "any news?"}}
	if _, err := f.runner.ActiveChat(context.Background()); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if f.platform.count("request_full_resume chat-3") != 1 {
		t.Fatalf("full resume must be requested once per transition into SEEK, got %v", f.platform.Calls())
	}
	if f.platform.count("send chat-3 msg:chat") != 1 {
		t.Fatalf("expected the new message to be answered, got %v", f.platform.Calls())
	}
}

func TestFollowupOnlyStaleRecords(t *testing.T) {
	f := newFixture(t)
	for _, rec := range []*candidate.Record{
		{CandidateID: "stale-1", ChatID: "chat-s1", Name: "A", JobApplied: "Go Engineer", Analysis: analysisOf("a", 7), Stage: candidate.StageChat},
		{CandidateID: "stale-2", ChatID: "chat-s2", Name: "B", JobApplied: "Go Engineer", Analysis: analysisOf("b", 6.5), Stage: candidate.StageChat},
	} {
		f.seed(t, rec, testNow.Add(-30*time.Hour))
	}
	f.seed(t, &candidate.Record{
		CandidateID: "fresh", ChatID: "chat-f", Name: "C", JobApplied: "Go Engineer",
		Analysis: analysisOf("c", 9), Stage: candidate.StageSeek,
	}, testNow.Add(-2*time.Hour))

	report, err := f.runner.FollowUp(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(report.Outcomes) != 2 {
		t.Fatalf("expected two follow-ups, got %d", len(report.Outcomes))
	}
	ids := map[string]bool{}
	for _, out := range report.Outcomes {
		if out.Status != StatusOK {
			t.Fatalf("unexpected outcome %+v", out)
		}
		ids[out.CandidateID] = true
	}
	if !ids["stale-1"] || !ids["stale-2"] || ids["fresh"] {
		t.Fatalf("unexpected follow-up batch %v", ids)
	}
	if f.platform.count("send chat-s1 msg:followup") != 1 || f.platform.count("send chat-s2 msg:followup") != 1 {
		t.Fatalf("expected one nudge per stale chat, got %v", f.platform.Calls())
	}
	if f.platform.count("send chat-f") != 0 {
		t.Fatalf("fresh candidate must not be nudged")
	}
	if f.platform.count("fetch_") != 0 || f.platform.count("list_") != 0 {
		t.Fatalf("follow-ups must not touch the platform lists, got %v", f.platform.Calls())
	}

	again, err := f.runner.Run(context.Background(), KindFollowup)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(again.Outcomes) != 0 {
		t.Fatalf("followed up records must wait another period, got %d", len(again.Outcomes))
	}
}

func TestContactCapturedSurvivesLowScore(t *testing.T) {
	f := newFixture(t)
	f.seed(t, &candidate.Record{
		CandidateID:     "c-contact",
		ChatID:          "chat-5",
		Name:            "Zhao Lei",
		JobApplied:      "Go Engineer",
		ResumeText:      "online resume",
		ConversationRef: "conv-5",
		Analysis:        analysisOf("online resume", 8.5),
		Stage:           candidate.StageSeek,
	}, testNow.Add(-time.Hour))

	f.platform.chats[boss.TabChatting] = []boss.Chat{{ChatID: "chat-5", Name: "Zhao Lei", LastMessage: "my phone is +86 138"}}
	f.platform.contacts["chat-5"] = &boss.Contact{Phone: "+86 138"}
	f.platform.fullResumes["chat-5"] = "weaker full resume"
	f.assistant.scores["weaker full resume"] = 5

	report, err := f.runner.Run(context.Background(), KindChat)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	out := report.Outcomes[0]
	if out.Stage != candidate.StageContact {
		t.Fatalf("expected CONTACT despite low score, got %s (%s)", out.Stage, out.Error)
	}
	if out.Overall == nil || *out.Overall != 5 {
		t.Fatalf("expected the new analysis to be stored, got %v", out.Overall)
	}
	if f.notifier.count() != 1 {
		t.Fatalf("expected HR to be notified once, got %d", f.notifier.count())
	}
	if got := f.notifier.summaries[0]; got.Phone != "+86 138" || got.CandidateID != "c-contact" {
		t.Fatalf("unexpected summary %+v", got)
	}

	if _, err := f.runner.Run(context.Background(), KindChat); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if f.notifier.count() != 1 {
		t.Fatalf("HR must be notified once per transition, got %d", f.notifier.count())
	}
	stored, _ := f.memory.GetByChatID(context.Background(), "chat-5")
	if stored.Stage != candidate.StageContact {
		t.Fatalf("expected CONTACT to stick, got %s", stored.Stage)
	}
}

func TestPassCandidateIsNeverMessaged(t *testing.T) {
	f := newFixture(t)
	f.platform.recommendations = []boss.Recommendation{{Index: 3, Name: "Weak"}}
	f.platform.resumes["recommendation:3"] = "weak resume"
	f.assistant.scores["weak resume"] = 2

	f.platform.chats[boss.TabNewGreeting] = []boss.Chat{{ChatID: "chat-w", Name: "Also Weak", LastMessage: "hi"}}
	f.platform.resumes["chat:chat-w"] = "another weak resume"

	for _, kind := range []Kind{KindRecommend, KindGreet, KindRecommend, KindGreet} {
		if _, err := f.runner.Run(context.Background(), kind); err != nil {
			t.Fatalf("run %s: %v", kind, err)
		}
	}

	if got := f.platform.count("send ") + f.platform.count("greet "); got != 0 {
		t.Fatalf("expected no messages, got %v", f.platform.Calls())
	}
	if len(f.assistant.generated) != 0 {
		t.Fatalf("expected no generated messages, got %v", f.assistant.generated)
	}
	if f.platform.count("discard recommendation:3") != 1 || f.platform.count("discard chat:chat-w") != 1 {
		t.Fatalf("expected a single discard per candidate, got %v", f.platform.Calls())
	}
}

func TestRerunIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.platform.chats[boss.TabNewGreeting] = []boss.Chat{
		{ChatID: "chat-a", Name: "Chat Candidate", LastMessage: "hello"},
		{ChatID: "chat-b", Name: "Seek Candidate", LastMessage: "hi"},
	}
	f.platform.resumes["chat:chat-a"] = "good resume"
	f.platform.resumes["chat:chat-b"] = "great resume"
	f.assistant.scores["good resume"] = 7
	f.assistant.scores["great resume"] = 9

	first, err := f.runner.Run(context.Background(), KindGreet)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	callsAfterFirst := len(f.platform.Calls())

	second, err := f.runner.Run(context.Background(), KindGreet)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	for i := range first.Outcomes {
		if first.Outcomes[i].Stage != second.Outcomes[i].Stage {
			t.Fatalf("stage changed between runs: %s vs %s", first.Outcomes[i].Stage, second.Outcomes[i].Stage)
		}
		if len(second.Outcomes[i].Actions) != 0 {
			t.Fatalf("second run must not act, got %v", second.Outcomes[i].Actions)
		}
	}

	if f.platform.count("greet chat:chat-a msg:greet") != 1 {
		t.Fatalf("expected CHAT candidate to be greeted once, got %v", f.platform.Calls())
	}
	if f.platform.count("send chat-b msg:contact") != 1 {
		t.Fatalf("expected SEEK candidate to be asked for contact once, got %v", f.platform.Calls())
	}
	if f.assistant.analyzeCount() != 2 {
		t.Fatalf("unchanged resumes must not be re-analysed, got %d analyses", f.assistant.analyzeCount())
	}

	for _, call := range f.platform.Calls()[callsAfterFirst:] {
		if call != "list_chats new/unread" {
			t.Fatalf("unexpected call on re-run: %s", call)
		}
	}
}

func TestBatchIsolation(t *testing.T) {
	f := newFixture(t)
	f.platform.recommendations = []boss.Recommendation{
		{Index: 0, Name: "First"},
		{Index: 1, Name: "Broken"},
		{Index: 2, Name: "Third"},
	}
	f.platform.resumes["recommendation:0"] = "first resume"
	f.platform.resumes["recommendation:2"] = "third resume"
	f.platform.failResume["recommendation:1"] = errBoom
	f.assistant.scores["first resume"] = 7
	f.assistant.scores["third resume"] = 7

	report, err := f.runner.Run(context.Background(), KindRecommend)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	failures := report.Failures()
	if len(failures) != 1 || failures[0].Name != "Broken" {
		t.Fatalf("expected exactly one failure for Broken, got %+v", failures)
	}
	if report.Outcomes[2].Status != StatusOK || report.Outcomes[2].Name != "Third" {
		t.Fatalf("batch must continue after a failure, got %+v", report.Outcomes[2])
	}
	if f.store.upsertCount() != 2 {
		t.Fatalf("failed candidate must not be persisted, got %d upserts", f.store.upsertCount())
	}
	if _, err := f.memory.FindByNameAndJob(context.Background(), "Broken", "Go Engineer"); !errors.Is(err, candidate.ErrNotFound) {
		t.Fatalf("expected no record for the failed candidate, got %v", err)
	}
}

func TestGreetAdoptsRecommendedCandidate(t *testing.T) {
	f := newFixture(t)
	seeded := f.seed(t, &candidate.Record{
		CandidateID:     "c-rec",
		Name:            "Wang Fang",
		JobApplied:      "Go Engineer",
		ResumeText:      "recommended resume",
		ConversationRef: "conv-rec",
		Analysis:        analysisOf("recommended resume", 7),
		Stage:           candidate.StageChat,
	}, testNow.Add(-3*time.Hour))

	f.platform.chats[boss.TabNewGreeting] = []boss.Chat{{ChatID: "chat-9", Name: "Wang Fang", LastMessage: "thanks, interested"}}

	report, err := f.runner.NewGreeting(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	out := report.Outcomes[0]
	if out.CandidateID != seeded.CandidateID {
		t.Fatalf("expected existing candidate to be linked, got %s", out.CandidateID)
	}
	if f.memory.Len() != 1 {
		t.Fatalf("expected no duplicate record, got %d", f.memory.Len())
	}
	if f.platform.count("fetch_resume") != 0 {
		t.Fatalf("cached resume must be reused")
	}
	if f.platform.count("send chat-9 msg:chat") != 1 {
		t.Fatalf("expected a reply to the new message, got %v", f.platform.Calls())
	}

	stored, err := f.memory.GetByChatID(context.Background(), "chat-9")
	if err != nil {
		t.Fatalf("lookup by chat: %v", err)
	}
	if stored.CandidateID != "c-rec" || stored.ConversationRef != "conv-rec" {
		t.Fatalf("unexpected stored record %+v", stored)
	}
}
