package services

import (
	"fmt"
	"testing"

	types "github.com/threadloom/threadloom-backend/internal/domain"
)

func msg(id, role, content string) types.Message {
	return types.Message{ID: id, Role: role, Content: content}
}

func TestMergeContentDedup(t *testing.T) {
	stored := []types.Message{msg("a", types.RoleUser, "hi")}
	incoming := []types.Message{msg("b", types.RoleUser, "hi")}

	out := MergeMessages(stored, incoming, 50)
	if len(out) != 1 {
		t.Fatalf("want 1 message, got %d", len(out))
	}
	if out[0].ID != "a" {
		t.Fatalf("stored message must win, got id %q", out[0].ID)
	}
}

func TestMergeIDDedup(t *testing.T) {
	stored := []types.Message{msg("a", types.RoleUser, "one"), msg("b", types.RoleAssistant, "two")}
	incoming := []types.Message{msg("b", types.RoleAssistant, "edited"), msg("c", types.RoleUser, "three")}

	out := MergeMessages(stored, incoming, 50)
	if len(out) != 3 {
		t.Fatalf("want 3 messages, got %d", len(out))
	}
	if out[0].ID != "a" || out[1].ID != "b" || out[2].ID != "c" {
		t.Fatalf("wrong order: %+v", out)
	}
	if out[1].Content != "two" {
		t.Fatalf("stored content must win on id collision, got %q", out[1].Content)
	}
}

func TestMergeRoleDistinguishesContent(t *testing.T) {
	stored := []types.Message{msg("a", types.RoleUser, "hi")}
	incoming := []types.Message{msg("b", types.RoleAssistant, "hi")}

	out := MergeMessages(stored, incoming, 50)
	if len(out) != 2 {
		t.Fatalf("same text under a different role is not a duplicate, got %d messages", len(out))
	}
}

func TestMergeEmptyTextNeverContentDedups(t *testing.T) {
	stored := []types.Message{msg("a", types.RoleUser, "")}
	incoming := []types.Message{msg("b", types.RoleUser, "")}

	out := MergeMessages(stored, incoming, 50)
	if len(out) != 2 {
		t.Fatalf("textless messages must never dedup on content, got %d", len(out))
	}
}

func TestMergePartsContent(t *testing.T) {
	stored := []types.Message{msg("a", types.RoleUser, `[{"type":"text","text":"hi"}]`)}
	incoming := []types.Message{msg("b", types.RoleUser, "hi")}

	out := MergeMessages(stored, incoming, 50)
	if len(out) != 1 || out[0].ID != "a" {
		t.Fatalf("part-array and bare text with equal text must dedup: %+v", out)
	}
}

func TestMergeWindowCapDropsOldest(t *testing.T) {
	var stored []types.Message
	for i := 0; i < 10; i++ {
		stored = append(stored, msg(fmt.Sprintf("s%d", i), types.RoleUser, fmt.Sprintf("text %d", i)))
	}
	incoming := []types.Message{msg("n", types.RoleUser, "newest")}

	out := MergeMessages(stored, incoming, 4)
	if len(out) != 4 {
		t.Fatalf("want 4 messages, got %d", len(out))
	}
	if out[len(out)-1].ID != "n" {
		t.Fatalf("newest message must survive the cap: %+v", out)
	}
	if out[0].ID != "s7" {
		t.Fatalf("cap must drop oldest first, got head %q", out[0].ID)
	}
}
