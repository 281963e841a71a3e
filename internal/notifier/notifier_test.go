package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"qbitmanage/internal/eventbus"
	logx "qbitmanage/pkg/logx"
)

func noSleep(context.Context, time.Duration) error { return nil }

func sampleReport() Report {
	return Report{
		RunID:    "run-1",
		ConfigID: "config.yml",
		Start:    time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC),
		End:      time.Date(2026, 10, 16, 9, 0, 42, 0, time.UTC),
		Seconds:  42,
		Stats:    map[string]int{"tagged": 3},
		Summary:  []string{"Total Torrents Tagged: 3"},
		Body:     "Finished Run\nTotal Torrents Tagged: 3",
	}
}

func TestNoSendersIsDisabled(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop(), nil)
	if s.Enabled() {
		t.Fatal("service without senders reports enabled")
	}
	if err := s.Notify(context.Background(), sampleReport()); !errors.Is(err, ErrDisabled) {
		t.Fatalf("err = %v, want ErrDisabled", err)
	}
	if err := (Nop{}).Notify(context.Background(), sampleReport()); !errors.Is(err, ErrDisabled) {
		t.Fatalf("Nop err = %v", err)
	}
}

func TestWebhookRetriesServerErrors(t *testing.T) {
	t.Parallel()
	var hits atomic.Int32
	var mu sync.Mutex
	var got Report
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()

	s := New(Config{RetryMax: 3, RatePerSec: 100}, logx.Nop(), bus, NewWebhookSender(srv.URL+"/hook?token=secret"))
	s.sleep = noSleep
	if err := s.Notify(context.Background(), sampleReport()); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if hits.Load() != 3 {
		t.Fatalf("hits = %d, want 3", hits.Load())
	}
	mu.Lock()
	if got.Event != "run_end" || got.Seconds != 42 || got.Stats["tagged"] != 3 || got.ConfigID != "config.yml" {
		t.Fatalf("payload = %+v", got)
	}
	mu.Unlock()

	select {
	case e := <-events:
		if e.Type != eventbus.NotifierSent {
			t.Fatalf("event = %s", e.Type)
		}
		if strings.Contains(e.Data.(Event).Sender, "secret") {
			t.Fatal("sender name leaks the webhook query")
		}
	case <-time.After(time.Second):
		t.Fatal("no bus event")
	}
}

func TestWebhookClientErrorIsNotRetried(t *testing.T) {
	t.Parallel()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	s := New(Config{RetryMax: 5, RatePerSec: 100}, logx.Nop(), nil, NewWebhookSender(srv.URL))
	s.sleep = noSleep
	if err := s.Notify(context.Background(), sampleReport()); err == nil {
		t.Fatal("expected error")
	}
	if hits.Load() != 1 {
		t.Fatalf("hits = %d, want 1", hits.Load())
	}
}

type fakeSender struct {
	name string
	err  error
	n    atomic.Int32
}

func (f *fakeSender) Name() string { return f.name }

func (f *fakeSender) Send(context.Context, Report) error {
	f.n.Add(1)
	return f.err
}

func TestOneFailingSenderDoesNotStopOthers(t *testing.T) {
	t.Parallel()
	bad := &fakeSender{name: "bad", err: fmt.Errorf("%w: nope", errPermanent)}
	good := &fakeSender{name: "good"}
	s := New(Config{RatePerSec: 100}, logx.Nop(), nil, bad, good)
	s.sleep = noSleep

	err := s.Notify(context.Background(), sampleReport())
	if err == nil || !strings.Contains(err.Error(), "bad") {
		t.Fatalf("err = %v", err)
	}
	if good.n.Load() != 1 {
		t.Fatal("good sender not called")
	}
}

func TestRetryDelayBounded(t *testing.T) {
	t.Parallel()
	cfg := withDefaults(Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second})
	for attempt := 1; attempt < 10; attempt++ {
		d := retryDelay(cfg, attempt)
		if d < 0 || d > time.Second {
			t.Fatalf("attempt %d delay = %v", attempt, d)
		}
	}
}

func TestTelegramSender(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	var params []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/sendMessage") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		p := map[string]any{}
		_ = json.NewDecoder(r.Body).Decode(&p)
		mu.Lock()
		params = append(params, p)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":42,"type":"private"}}}`))
	}))
	defer srv.Close()

	snd, err := NewTelegramSender(TelegramConfig{Token: "123:abc", ChatID: 42, ThreadID: 7, APIURL: srv.URL})
	if err != nil {
		t.Fatalf("NewTelegramSender: %v", err)
	}
	if err := snd.Send(context.Background(), sampleReport()); err != nil {
		t.Fatalf("Send: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(params) != 1 {
		t.Fatalf("requests = %d", len(params))
	}
	p := params[0]
	if fmt.Sprint(p["chat_id"]) != "42" || fmt.Sprint(p["message_thread_id"]) != "7" {
		t.Fatalf("params = %v", p)
	}
	if !strings.HasPrefix(fmt.Sprint(p["text"]), "[config.yml]\nFinished Run") {
		t.Fatalf("text = %v", p["text"])
	}
}

func TestTelegramRequiresTokenAndChat(t *testing.T) {
	t.Parallel()
	if _, err := NewTelegramSender(TelegramConfig{ChatID: 1}); err == nil {
		t.Fatal("missing token accepted")
	}
	if _, err := NewTelegramSender(TelegramConfig{Token: "1:a"}); err == nil {
		t.Fatal("missing chat accepted")
	}
}

func TestSplitText(t *testing.T) {
	t.Parallel()
	long := strings.Repeat("line of text\n", 1000)
	chunks := splitText(long, telegramTextLimit)
	if len(chunks) < 2 {
		t.Fatalf("chunks = %d", len(chunks))
	}
	if strings.Join(chunks, "") != long {
		t.Fatal("chunks do not reassemble")
	}
	for _, c := range chunks {
		if len([]rune(c)) > telegramTextLimit {
			t.Fatalf("chunk too long: %d", len(c))
		}
	}
}
