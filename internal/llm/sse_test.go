package llm

import (
	"errors"
	"strings"
	"testing"
)

type sseEvent struct {
	event string
	data  string
}

func TestStreamSSE(t *testing.T) {
	raw := strings.Join([]string{
		": keepalive",
		"event: message_start",
		"data: {\"a\":1}",
		"",
		"data: line1",
		"data: line2",
		"",
		"data: tail-without-blank-line",
	}, "\n")

	var got []sseEvent
	err := streamSSE(strings.NewReader(raw), func(event, data string) error {
		got = append(got, sseEvent{event, data})
		return nil
	})
	if err != nil {
		t.Fatalf("streamSSE: %v", err)
	}

	want := []sseEvent{
		{"message_start", `{"a":1}`},
		{"", "line1\nline2"},
		{"", "tail-without-blank-line"},
	}
	if len(got) != len(want) {
		t.Fatalf("want %d events, got %d: %+v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d: want %+v, got %+v", i, want[i], got[i])
		}
	}
}

func TestStreamSSECallbackErrorStops(t *testing.T) {
	raw := "data: one\n\ndata: two\n\n"
	calls := 0
	err := streamSSE(strings.NewReader(raw), func(event, data string) error {
		calls++
		return errStreamDone
	})
	if !errors.Is(err, errStreamDone) {
		t.Fatalf("expected sentinel, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("callback error must stop the stream, got %d calls", calls)
	}
}
