package storage

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/richinex/threadline/model"
)

func sampleHistory() []model.Message {
	return []model.Message{
		model.UserMessage("read main.go"),
		model.ModelMessage(
			model.TextPart("Reading it now."),
			model.FunctionCallPart(model.FunctionCall{ID: "c1", Name: "read_file", Args: map[string]any{"path": "main.go"}}),
		),
		model.ToolMessage(model.FunctionResponse{ID: "c1", Name: "read_file", Result: map[string]any{"output": "package main"}}),
		{Role: model.RoleUser, Parts: []model.Part{
			model.TextPart("and this screenshot"),
			model.InlineDataPart("image/png", []byte{0x89, 'P', 'N', 'G'}),
		}},
	}
}

// runContract exercises the ConversationStorage contract against s.
func runContract(t *testing.T, s ConversationStorage) {
	t.Helper()
	ctx := context.Background()

	t.Run("SaveAndLoad", func(t *testing.T) {
		history := sampleHistory()
		if err := s.Save(ctx, "roundtrip", history); err != nil {
			t.Fatalf("Save failed: %v", err)
		}

		loaded, err := s.Load(ctx, "roundtrip")
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if !reflect.DeepEqual(loaded, history) {
			t.Errorf("loaded history differs:\n got %#v\nwant %#v", loaded, history)
		}
	})

	t.Run("LoadNonexistent", func(t *testing.T) {
		loaded, err := s.Load(ctx, "nonexistent")
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if loaded == nil || len(loaded) != 0 {
			t.Errorf("expected empty non-nil slice, got %#v", loaded)
		}
	})

	t.Run("SaveReplaces", func(t *testing.T) {
		if err := s.Save(ctx, "replace", sampleHistory()); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		if err := s.Save(ctx, "replace", []model.Message{model.UserMessage("fresh")}); err != nil {
			t.Fatalf("Save failed: %v", err)
		}

		loaded, err := s.Load(ctx, "replace")
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if len(loaded) != 1 || loaded[0].Text() != "fresh" {
			t.Errorf("expected single fresh message, got %#v", loaded)
		}
	})

	t.Run("DeleteAndExists", func(t *testing.T) {
		if err := s.Save(ctx, "doomed", sampleHistory()); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		exists, err := s.Exists(ctx, "doomed")
		if err != nil || !exists {
			t.Fatalf("expected tag to exist, got %v, %v", exists, err)
		}

		if err := s.Delete(ctx, "doomed"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		exists, err = s.Exists(ctx, "doomed")
		if err != nil || exists {
			t.Errorf("expected tag to be gone, got %v, %v", exists, err)
		}
		loaded, err := s.Load(ctx, "doomed")
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if len(loaded) != 0 {
			t.Errorf("deleted tag still has %d messages", len(loaded))
		}
	})

	t.Run("ListSessionsMostRecentFirst", func(t *testing.T) {
		for _, tag := range []string{"list-a", "list-b", "list-c"} {
			if err := s.Save(ctx, tag, []model.Message{model.UserMessage(tag)}); err != nil {
				t.Fatalf("Save failed: %v", err)
			}
		}
		if err := s.Save(ctx, "list-a", []model.Message{model.UserMessage("again")}); err != nil {
			t.Fatalf("Save failed: %v", err)
		}

		tags, err := s.ListSessions(ctx)
		if err != nil {
			t.Fatalf("ListSessions failed: %v", err)
		}
		if len(tags) < 3 || tags[0] != "list-a" || tags[1] != "list-c" || tags[2] != "list-b" {
			t.Errorf("unexpected order: %v", tags)
		}
	})
}

func TestInMemoryStorageContract(t *testing.T) {
	runContract(t, NewInMemoryStorage())
}

func TestSqliteStorageContract(t *testing.T) {
	s, err := NewSqliteInMemory()
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	defer s.Close()

	tick := time.Unix(1_700_000_000, 0)
	s.now = func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}
	runContract(t, s)
}

func TestInMemoryStorageIsolatesCallerMutations(t *testing.T) {
	s := NewInMemoryStorage()
	ctx := context.Background()

	history := sampleHistory()
	if err := s.Save(ctx, "iso", history); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	history[1].Parts[1].FunctionCall.Args["path"] = "other.go"

	loaded, _ := s.Load(ctx, "iso")
	if got := loaded[1].Parts[1].FunctionCall.Args["path"]; got != "main.go" {
		t.Errorf("stored history was mutated: path = %v", got)
	}

	loaded[0].Parts[0].Text = "changed"
	again, _ := s.Load(ctx, "iso")
	if again[0].Text() != "read main.go" {
		t.Errorf("loaded copy aliases storage: %q", again[0].Text())
	}
}

func TestSqliteStoragePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "threadline.db")
	ctx := context.Background()

	s, err := OpenSqlite(path)
	if err != nil {
		t.Fatalf("OpenSqlite failed: %v", err)
	}
	if err := s.Save(ctx, "persist", sampleHistory()); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	s.Close()

	reopened, err := OpenSqlite(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	loaded, err := reopened.Load(ctx, "persist")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(loaded) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(loaded))
	}
	blob := loaded[3].Parts[1].InlineData
	if blob == nil || blob.MIMEType != "image/png" || string(blob.Data) != "\x89PNG" {
		t.Errorf("inline data not preserved: %#v", blob)
	}
}

func TestSqliteStorageCancelledContext(t *testing.T) {
	s, err := NewSqliteInMemory()
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Save(ctx, "cancelled", sampleHistory()); err == nil {
		t.Error("expected Save to fail on a cancelled context")
	}
}
