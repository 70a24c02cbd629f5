package telegram

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	logx "ticketd/pkg/logx"
)

func TestSplitText(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		in    string
		limit int
		mode  string
		want  []string
	}{
		{"short", "hello", 10, "", []string{"hello"}},
		{"newline boundary", "aaaa\nbbbb\ncccc", 10, "", []string{"aaaa\nbbbb", "cccc"}},
		{"hard cut", "abcdefghij", 4, "", []string{"abcd", "efgh", "ij"}},
		{"html tag kept whole", "abcdef<b>x</b>", 8, "HTML", []string{"abcdef", "<b>x</b>"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := splitText(tc.in, tc.limit, tc.mode)
			if strings.Join(got, "|") != strings.Join(tc.want, "|") {
				t.Fatalf("got %q want %q", got, tc.want)
			}
		})
	}
}

func TestSplitTextRespectsRunes(t *testing.T) {
	t.Parallel()

	in := strings.Repeat("ñ", 9)
	for _, c := range splitText(in, 4, "") {
		if !utf8.ValidString(c) || utf8.RuneCountInString(c) > 4 {
			t.Fatalf("bad chunk %q", c)
		}
	}
}

func TestSendTextPostsToChat(t *testing.T) {
	t.Parallel()

	var (
		mu    sync.Mutex
		paths []string
		texts []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var params map[string]any
		_ = json.Unmarshal(body, &params)
		mu.Lock()
		paths = append(paths, r.URL.Path)
		if s, ok := params["text"].(string); ok {
			texts = append(texts, s)
		}
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":42,"type":"private"}}}`)
	}))
	defer srv.Close()

	s, err := New(Config{Token: "T0K", ChatID: 42, APIURL: srv.URL}, logx.Nop(), true)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := s.SendLog(context.Background(), "[WARN] pool saturated"); err != nil {
		t.Fatalf("send: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(paths) != 1 || paths[0] != "/botT0K/sendMessage" {
		t.Fatalf("paths=%v", paths)
	}
	if len(texts) != 1 || texts[0] != "[WARN] pool saturated" {
		t.Fatalf("texts=%v", texts)
	}
}

func TestNewRejectsMissingSettings(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{ChatID: 1}, logx.Nop(), true); err == nil {
		t.Fatalf("expected token error")
	}
	if _, err := New(Config{Token: "x"}, logx.Nop(), true); err == nil {
		t.Fatalf("expected chat error")
	}
}
