package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	xerrors "github.com/RosarioB/eliza-nft/internal/errors"
)

type recordingNotifier struct {
	channel Channel
	events  []Event
	err     error
}

func (r *recordingNotifier) Channel() Channel { return r.channel }

func (r *recordingNotifier) Notify(_ context.Context, event Event) error {
	r.events = append(r.events, event)
	return r.err
}

type recordingSender struct{ messages []string }

func (r *recordingSender) Send(_ context.Context, content string) error {
	r.messages = append(r.messages, content)
	return nil
}

func TestEventFromError(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	err := xerrors.Wrap(xerrors.CodeMintFailure, errors.New("nonce too low"), "提交铸造交易失败",
		xerrors.WithMetadata("recipient", "0x20c6F9006d563240031A1388f4f25726029a6368"))

	event := EventFromError(err, "Minty/u1/data", "mint", now)
	if event.Code != xerrors.CodeMintFailure || event.Severity != xerrors.SeverityCritical {
		t.Fatalf("unexpected event %+v", event)
	}
	if event.Metadata["recipient"] == "" || !event.OccurredAt.Equal(now) {
		t.Fatalf("metadata or time missing: %+v", event)
	}
}

func TestFanoutDispatcherJoinsErrors(t *testing.T) {
	ok := &recordingNotifier{channel: ChannelLog}
	failing := &recordingNotifier{channel: ChannelSlack, err: errors.New("boom")}
	d := NewFanout(ok, failing, nil)

	err := d.Notify(context.Background(), Event{Code: xerrors.CodeUploadFailure})
	if err == nil || !strings.Contains(err.Error(), "channel slack") {
		t.Fatalf("expected joined slack error, got %v", err)
	}
	if len(ok.events) != 1 || len(failing.events) != 1 {
		t.Fatalf("every notifier should receive the event")
	}
	if got := d.Channels(); len(got) != 2 || got[0] != ChannelLog {
		t.Fatalf("unexpected channels %v", got)
	}

	var nilDispatcher *FanoutDispatcher
	if err := nilDispatcher.Notify(context.Background(), Event{}); err != nil {
		t.Fatalf("nil dispatcher should be a no-op: %v", err)
	}
}

func TestLogNotifierWritesStructuredRecord(t *testing.T) {
	var buf bytes.Buffer
	n := &LogNotifier{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}
	err := n.Notify(context.Background(), Event{
		Code:     xerrors.CodeCacheFailure,
		Message:  "写入记录失败",
		Key:      "Minty/u1/data",
		Metadata: map[string]string{"key": "Minty/u1/data"},
	})
	if err != nil {
		t.Fatalf("notify: %v", err)
	}

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log: %v", err)
	}
	if entry["error_code"] != "CACHE_FAILURE" || entry["meta.key"] != "Minty/u1/data" {
		t.Fatalf("unexpected entry %v", entry)
	}
}

func TestSlackNotifierFormatsMessage(t *testing.T) {
	sender := &recordingSender{}
	n := &SlackNotifier{Sender: sender}
	err := n.Notify(context.Background(), Event{
		Code:     xerrors.CodeUploadFailure,
		Severity: xerrors.SeverityWarning,
		Message:  "pinata 503",
		Key:      "Minty/u1/data",
		Stage:    "upload",
	})
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(sender.messages) != 1 {
		t.Fatalf("expected one message")
	}
	msg := sender.messages[0]
	if !strings.HasPrefix(msg, "*[warning]* UPLOAD_FAILURE - pinata 503") || !strings.Contains(msg, "stage: upload") {
		t.Fatalf("unexpected message %q", msg)
	}

	var unconfigured *SlackNotifier
	if err := unconfigured.Notify(context.Background(), Event{}); err != nil {
		t.Fatalf("unconfigured notifier should skip: %v", err)
	}
}

func TestWebhookSenderPostsText(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected request %s %s", r.Method, r.Header.Get("Content-Type"))
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if err := NewWebhookSender(srv.URL).Send(context.Background(), "hello"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got["text"] != "hello" {
		t.Fatalf("unexpected payload %v", got)
	}
}

func TestWebhookSenderReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	err := NewWebhookSender(srv.URL).Send(context.Background(), "x")
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("expected status error, got %v", err)
	}
	if err := NewWebhookSender("").Send(context.Background(), "x"); err == nil {
		t.Fatalf("expected error for empty url")
	}
}
