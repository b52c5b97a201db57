package tutor

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/ashureev/tutorlive/internal/realtime"
)

func TestTranscriptUpdateCarriesFirstIndex(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.connect(t)

	h.o.handleEvent(realtime.InputTranscriptionCompleted{Transcript: "hi"})

	h.pub.mu.Lock()
	var got *Update
	for i := range h.pub.updates {
		if h.pub.updates[i].Kind == UpdateTranscript {
			got = &h.pub.updates[i]
		}
	}
	h.pub.mu.Unlock()
	if got == nil {
		t.Fatal("no transcript update published")
	}

	data, err := json.Marshal(got)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if !strings.Contains(string(data), `"transcript_index":0`) {
		t.Fatalf("update = %s, want transcript_index 0", data)
	}

	data, err = json.Marshal(Update{Kind: UpdateStatus})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if strings.Contains(string(data), "transcript_index") {
		t.Fatalf("status update = %s, want no transcript_index", data)
	}
}
