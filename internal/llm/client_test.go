package llm

import (
	"testing"
)

func TestWindowTurns(t *testing.T) {
	turns := make([]Turn, 15)
	for i := range turns {
		turns[i] = Turn{Role: RoleUser, Content: string(rune('a' + i))}
	}

	window := WindowTurns(turns, 10)
	if len(window) != 10 {
		t.Fatalf("Expected 10 turns, got %d", len(window))
	}
	if window[0].Content != turns[5].Content {
		t.Errorf("Expected window to start at turn 5, got '%s'", window[0].Content)
	}
	if window[9].Content != turns[14].Content {
		t.Errorf("Expected window to end at last turn, got '%s'", window[9].Content)
	}
}

func TestWindowTurns_ShortHistory(t *testing.T) {
	turns := []Turn{
		{Role: RoleAssistant, Content: "welcome"},
		{Role: RoleUser, Content: "hello"},
	}

	window := WindowTurns(turns, 10)
	if len(window) != 2 {
		t.Errorf("Expected full history of 2 turns, got %d", len(window))
	}
}

func TestWindowTurns_Unbounded(t *testing.T) {
	turns := make([]Turn, 5)
	window := WindowTurns(turns, 0)
	if len(window) != 5 {
		t.Errorf("Expected unbounded window of 5 turns, got %d", len(window))
	}
}
