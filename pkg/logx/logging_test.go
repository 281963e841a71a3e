package logx

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestUseConfigSwitchesSink(t *testing.T) {
	dir := t.TempDir()
	svc, log := New(Config{
		Level: "INFO",
		File:  FileConfig{Enabled: true, Path: filepath.Join(dir, "main.log")},
	})
	defer svc.Close()

	svc.UseConfig("tv")
	log.Info("first run")
	svc.UseConfig("movies")
	log.Info("second run")
	svc.UseConfig("")
	log.Info("after runs")

	tv, err := os.ReadFile(filepath.Join(dir, "tv.log"))
	if err != nil {
		t.Fatalf("read tv.log: %v", err)
	}
	if !strings.Contains(string(tv), "first run") || strings.Contains(string(tv), "second run") {
		t.Fatalf("tv.log content unexpected: %s", tv)
	}
	if !strings.Contains(string(tv), `"config":"tv"`) {
		t.Fatalf("tv.log missing config field: %s", tv)
	}

	movies, err := os.ReadFile(filepath.Join(dir, "movies.log"))
	if err != nil {
		t.Fatalf("read movies.log: %v", err)
	}
	if !strings.Contains(string(movies), "second run") || strings.Contains(string(movies), "after runs") {
		t.Fatalf("movies.log content unexpected: %s", movies)
	}

	main, err := os.ReadFile(filepath.Join(dir, "main.log"))
	if err != nil {
		t.Fatalf("read main.log: %v", err)
	}
	for _, want := range []string{"first run", "second run", "after runs"} {
		if !strings.Contains(string(main), want) {
			t.Fatalf("main.log missing %q: %s", want, main)
		}
	}
	if svc.ActiveConfig() != "" {
		t.Fatalf("ActiveConfig = %q, want empty", svc.ActiveConfig())
	}
}

func TestLoggerWithFieldsAndLevel(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := NewJSON(&buf, "WARN").With(String("comp", "test"))

	log.Info("dropped")
	log.Warn("kept", Int("n", 3))

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Fatalf("info line should be filtered: %s", out)
	}
	if !strings.Contains(out, `"comp":"test"`) || !strings.Contains(out, `"n":3`) {
		t.Fatalf("missing fields: %s", out)
	}
}

func TestZeroLoggerIsNoop(t *testing.T) {
	t.Parallel()
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	l.Error("nothing happens")
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	if lvl, ok := ParseLevel("debug"); !ok || lvl != LevelDebug {
		t.Fatalf("ParseLevel(debug) = %v, %v", lvl, ok)
	}
	if _, ok := ParseLevel("loud"); ok {
		t.Fatal("ParseLevel(loud) should fail")
	}
}

func TestServiceLevelAndStack(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "main.log")
	svc, log := New(Config{Level: "warn", File: FileConfig{Enabled: true, Path: path}})
	defer svc.Close()

	log.Info("quiet")
	svc.SetLevel(LevelDebug)
	log.With(String("comp", "stage")).Debug("loud", Stack(CaptureStack()), Duration("took", 1500*time.Millisecond))

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	out := string(b)
	if strings.Contains(out, "quiet") {
		t.Fatalf("info line written at warn level: %s", out)
	}
	for _, want := range []string{`"message":"loud"`, `"comp":"stage"`, `"took":"1.5s"`, "TestServiceLevelAndStack", `"caller":"logging_test.go:`} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %s in %s", want, out)
		}
	}
}
