package shortmem

import (
	"testing"

	"github.com/nugget/forge-orchestrator/internal/taskmodel"
)

func turn(role, text string) taskmodel.ConversationTurn {
	return taskmodel.ConversationTurn{Role: role, Text: text}
}

func TestAppendAndAsMessagesPreservesOrder(t *testing.T) {
	m := New(20)
	m.Append(turn("user", "one"))
	m.Append(turn("assistant", "two"))
	m.Append(turn("user", "three"))

	got := m.AsMessages()
	want := []string{"one", "two", "three"}
	if len(got) != len(want) {
		t.Fatalf("len(got) = %d, want %d", len(got), len(want))
	}
	for i, w := range want {
		if got[i].Text != w {
			t.Errorf("got[%d].Text = %q, want %q", i, got[i].Text, w)
		}
	}
}

func TestAppendEvictsOldestWhenFull(t *testing.T) {
	m := New(2)
	m.Append(turn("user", "one"))
	m.Append(turn("assistant", "two"))
	m.Append(turn("user", "three"))

	got := m.AsMessages()
	if len(got) != 2 {
		t.Fatalf("len(got) = %d, want 2", len(got))
	}
	if got[0].Text != "two" || got[1].Text != "three" {
		t.Errorf("got = %v, want [two three] (oldest evicted)", got)
	}
}

func TestClearEmptiesWindow(t *testing.T) {
	m := New(5)
	m.Append(turn("user", "one"))
	m.Clear()
	if m.Len() != 0 {
		t.Errorf("Len() after Clear = %d, want 0", m.Len())
	}
	if len(m.AsMessages()) != 0 {
		t.Errorf("AsMessages() after Clear should be empty")
	}
}

func TestDefaultWindowSize(t *testing.T) {
	m := New(0)
	if len(m.entries) != DefaultWindow {
		t.Errorf("default window size = %d, want %d", len(m.entries), DefaultWindow)
	}
}
