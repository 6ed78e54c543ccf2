package transcript

import (
	"context"
	"fmt"
	"testing"

	"github.com/loqalabs/narrator/internal/frame"
)

func TestMemoryStorePreservesOrder(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(0)
	for i := 0; i < 5; i++ {
		if err := store.Append(ctx, Entry{Role: RoleAssistant, Content: fmt.Sprintf("line %d", i)}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	entries, err := store.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(entries) != 5 {
		t.Fatalf("expected 5 entries, got %d", len(entries))
	}
	for i, e := range entries {
		if e.Content != fmt.Sprintf("line %d", i) || e.Role != RoleAssistant {
			t.Fatalf("entry %d out of order: %+v", i, e)
		}
	}
}

func TestMemoryStoreEvictsOldest(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(3)
	for i := 0; i < 7; i++ {
		_ = store.Append(ctx, Entry{Role: RoleAssistant, Content: fmt.Sprintf("%d", i)})
	}
	n, _ := store.Len(ctx)
	if n != 3 {
		t.Fatalf("expected 3 retained turns, got %d", n)
	}
	entries, _ := store.Snapshot(ctx)
	if entries[0].Content != "4" || entries[2].Content != "6" {
		t.Fatalf("expected newest turns 4..6, got %+v", entries)
	}
}

func TestMemoryStoreSnapshotIsCopy(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(0)
	_ = store.Append(ctx, Entry{Role: RoleAssistant, Content: "original"})
	snap, _ := store.Snapshot(ctx)
	snap[0].Content = "mutated"
	again, _ := store.Snapshot(ctx)
	if again[0].Content != "original" {
		t.Fatalf("snapshot mutation leaked into store")
	}
}

func TestOutbound(t *testing.T) {
	history := []Entry{
		{Role: RoleAssistant, Content: "first"},
		{Role: RoleAssistant, Content: "second"},
	}
	current := frame.Payload{Data: "AAEC", MIMEType: "image/jpeg"}

	msgs := Outbound("be funny", history, current)
	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(msgs))
	}
	if msgs[0].Role != RoleSystem || msgs[0].Text != "be funny" || msgs[0].Image != nil {
		t.Fatalf("unexpected system message: %+v", msgs[0])
	}
	if msgs[1].Text != "first" || msgs[2].Text != "second" {
		t.Fatalf("history out of order: %+v", msgs[1:3])
	}
	last := msgs[3]
	if last.Role != RoleUser || last.Text != DescribePrompt || last.Image == nil || last.Image.Data != "AAEC" {
		t.Fatalf("unexpected frame turn: %+v", last)
	}
}
