package ai

import (
	"context"
	"errors"
	"testing"
)

func TestPurposeValidate(t *testing.T) {
	for _, p := range []Purpose{PurposeAnalyze, PurposeGreet, PurposeChat, PurposeFollowup, PurposeContact} {
		if err := p.Validate(); err != nil {
			t.Fatalf("expected %s to be valid: %v", p, err)
		}
	}

	if err := Purpose("apply").Validate(); !errors.Is(err, ErrUnknownPurpose) {
		t.Fatalf("expected ErrUnknownPurpose, got %v", err)
	}
}

func TestMemoryHistory(t *testing.T) {
	ctx := context.Background()
	h := NewMemoryHistory()

	if err := h.Append(ctx, "missing", Turn{Role: RoleUser, Text: "hi"}); !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("expected ErrConversationNotFound, got %v", err)
	}

	if err := h.Start(ctx, &Conversation{Ref: "r1", Candidate: "Li Lei", Job: "Go"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := h.Start(ctx, &Conversation{Ref: "r1"}); err == nil {
		t.Fatalf("expected duplicate start to fail")
	}

	if err := h.Append(ctx, "r1", Turn{Role: RoleUser, Text: "q"}, Turn{Role: RoleModel, Text: "a"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	conv, err := h.Load(ctx, "r1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(conv.Turns) != 2 || conv.Turns[1].Text != "a" || conv.Candidate != "Li Lei" {
		t.Fatalf("unexpected conversation: %+v", conv)
	}

	conv.Turns[0].Text = "changed"
	again, _ := h.Load(ctx, "r1")
	if again.Turns[0].Text != "q" {
		t.Fatalf("load must return a copy")
	}
}
