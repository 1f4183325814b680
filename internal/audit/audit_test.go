package audit

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestLoggerSinkWritesReplayAtWarn(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	Emit(context.Background(), NewLoggerSink(logger), TypeReplayDetected, "acct-1", map[string]string{"stored_counter": "7"})

	out := buf.String()
	for _, want := range []string{`"level":"WARN"`, `"security_event":"replay_detected"`, `"subject_id":"acct-1"`, `"stored_counter":"7"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %s in %s", want, out)
		}
	}
}

func TestRecorder(t *testing.T) {
	rec := &Recorder{}
	Emit(context.Background(), rec, TypeLoginSucceeded, "a", nil)
	Emit(context.Background(), rec, TypeReplayDetected, "a", nil)
	Emit(context.Background(), nil, TypeReplayDetected, "a", nil)

	if rec.Count(TypeReplayDetected) != 1 || len(rec.Events()) != 2 {
		t.Fatalf("unexpected events %+v", rec.Events())
	}
	if rec.Events()[0].At.IsZero() {
		t.Fatalf("event time not stamped")
	}
}
