package slack

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestPostMessageThreadsReply(t *testing.T) {
	t.Parallel()

	var got postMessageRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat.postMessage" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer xoxb-test" {
			t.Errorf("Authorization = %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		fmt.Fprint(w, `{"ok":true,"ts":"1700000000.000100"}`)
	}))
	t.Cleanup(server.Close)

	client, err := NewClient(Config{URL: server.URL, BotToken: "xoxb-test"})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	ts, err := client.PostMessage(context.Background(), "C123", "1699.5", "rest 3 minutes, then top set")
	if err != nil {
		t.Fatalf("PostMessage() error = %v", err)
	}
	if ts != "1700000000.000100" {
		t.Fatalf("ts = %q", ts)
	}
	if got.Channel != "C123" || got.ThreadTS != "1699.5" {
		t.Fatalf("request = %+v", got)
	}
}

func TestPostMessageSurfacesSlackError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ok":false,"error":"channel_not_found"}`)
	}))
	t.Cleanup(server.Close)

	client, err := NewClient(Config{URL: server.URL, BotToken: "xoxb-test"})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	_, err = client.PostMessage(context.Background(), "C404", "", "hello")
	if err == nil || !strings.Contains(err.Error(), "channel_not_found") {
		t.Fatalf("error = %v, want channel_not_found", err)
	}
}

func TestNewClientValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewClient(Config{BotToken: "t"}); err == nil {
		t.Fatal("expected error without url")
	}
	if _, err := NewClient(Config{URL: "https://slack.com/api"}); err == nil {
		t.Fatal("expected error without bot token")
	}
}
