package channel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"testing"

	"github.com/mohammad-safakhou/newsflow/internal/plugin"
)

type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

func telegramDescriptor(cfg map[string]string) plugin.Descriptor {
	return plugin.Descriptor{
		Name:    "telegram-main",
		Kind:    plugin.KindChannel,
		Module:  "telegram",
		Enabled: true,
		Config:  cfg,
	}
}

func TestTelegramSend(t *testing.T) {
	var got []sendMessageRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/botsecret-token/sendMessage" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var req sendMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		got = append(got, req)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	ch, err := NewTelegram(telegramDescriptor(map[string]string{
		"token":    "secret-token",
		"chat_id":  "-100",
		"api_base": srv.URL,
	}))
	if err != nil {
		t.Fatalf("build channel: %v", err)
	}

	ok, err := ch.Send(context.Background(), "hello world", "tech")
	if err != nil || !ok {
		t.Fatalf("send: ok=%v err=%v", ok, err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 API call, got %d", len(got))
	}
	if got[0].ChatID != "-100" || got[0].Text != "hello world" || !got[0].DisableWebPagePreview {
		t.Fatalf("unexpected request: %#v", got[0])
	}
}

func TestTelegramChunksLongMessages(t *testing.T) {
	var got []sendMessageRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req sendMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		got = append(got, req)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	ch, err := NewTelegram(telegramDescriptor(map[string]string{
		"token":    "tok",
		"chat_id":  "-100",
		"api_base": srv.URL,
	}))
	if err != nil {
		t.Fatalf("build channel: %v", err)
	}

	line := strings.Repeat("x", 99) + "\n"
	message := strings.Repeat(line, 80) // 8000 runes

	ok, err := ch.Send(context.Background(), message, "")
	if err != nil || !ok {
		t.Fatalf("send: ok=%v err=%v", ok, err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(got))
	}
	for i, req := range got {
		if len([]rune(req.Text)) > 4096 {
			t.Fatalf("chunk %d exceeds telegram limit: %d runes", i, len([]rune(req.Text)))
		}
	}
	if !strings.HasSuffix(got[0].Text, "(part 1/3)") || !strings.HasSuffix(got[2].Text, "(part 3/3)") {
		t.Fatalf("missing part markers: %q ... %q", got[0].Text[len(got[0].Text)-20:], got[2].Text[len(got[2].Text)-20:])
	}
}

func TestSplitMessageShortStaysWhole(t *testing.T) {
	chunks := splitMessage("short message", 100)
	if len(chunks) != 1 || chunks[0] != "short message" {
		t.Fatalf("unexpected chunks: %#v", chunks)
	}
}

func TestTelegramTopicChatOverride(t *testing.T) {
	var got []sendMessageRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req sendMessageRequest
		json.NewDecoder(r.Body).Decode(&req)
		got = append(got, req)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	ch, err := NewTelegram(telegramDescriptor(map[string]string{
		"token":       "tok",
		"chat_id":     "-100",
		"topic_chats": "sports=-200,tech=-300",
		"api_base":    srv.URL,
	}))
	if err != nil {
		t.Fatalf("build channel: %v", err)
	}

	if _, err := ch.Send(context.Background(), "m1", "Sports"); err != nil {
		t.Fatalf("send sports: %v", err)
	}
	if _, err := ch.Send(context.Background(), "m2", "world"); err != nil {
		t.Fatalf("send world: %v", err)
	}
	if got[0].ChatID != "-200" {
		t.Fatalf("topic override not applied: %q", got[0].ChatID)
	}
	if got[1].ChatID != "-100" {
		t.Fatalf("default chat not used: %q", got[1].ChatID)
	}
}

func TestTelegramAPIFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":false,"description":"chat not found"}`))
	}))
	defer srv.Close()

	ch, err := NewTelegram(telegramDescriptor(map[string]string{
		"token":    "tok",
		"chat_id":  "-100",
		"api_base": srv.URL,
	}))
	if err != nil {
		t.Fatalf("build channel: %v", err)
	}

	ok, err := ch.Send(context.Background(), "hello", "")
	if ok {
		t.Fatal("expected send to fail")
	}
	if err == nil || !strings.Contains(err.Error(), "chat not found") {
		t.Fatalf("expected API description in error, got %v", err)
	}
}

func TestTelegramConfigValidation(t *testing.T) {
	if _, err := NewTelegram(telegramDescriptor(map[string]string{"chat_id": "-1"})); err == nil {
		t.Fatal("expected error for missing token")
	}
	if _, err := NewTelegram(telegramDescriptor(map[string]string{
		"token":       "tok",
		"chat_id":     "-1",
		"topic_chats": "sports",
	})); err == nil {
		t.Fatal("expected error for malformed topic_chats")
	}
}

func TestEmailSend(t *testing.T) {
	ch, err := NewEmail(plugin.Descriptor{
		Name:    "email-main",
		Kind:    plugin.KindChannel,
		Module:  "email",
		Enabled: true,
		Config: map[string]string{
			"host": "smtp.example.com",
			"from": "digest@example.com",
			"to":   "a@example.com, b@example.com",
		},
	})
	if err != nil {
		t.Fatalf("build channel: %v", err)
	}

	var (
		gotAddr string
		gotTo   []string
		gotMsg  string
	)
	ch.(*emailChannel).sendMail = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotTo, gotMsg = addr, to, string(msg)
		return nil
	}

	ok, err := ch.Send(context.Background(), "the digest body", "sports")
	if err != nil || !ok {
		t.Fatalf("send: ok=%v err=%v", ok, err)
	}
	if gotAddr != "smtp.example.com:587" {
		t.Fatalf("unexpected addr: %q", gotAddr)
	}
	if len(gotTo) != 2 || gotTo[0] != "a@example.com" {
		t.Fatalf("unexpected recipients: %#v", gotTo)
	}
	if !strings.Contains(gotMsg, "Subject: News digest [sports]\r\n") {
		t.Fatalf("subject missing topic: %q", gotMsg)
	}
	if !strings.HasSuffix(gotMsg, "\r\n\r\nthe digest body") {
		t.Fatalf("unexpected message body: %q", gotMsg)
	}
}

func TestEmailRequiresRecipients(t *testing.T) {
	_, err := NewEmail(plugin.Descriptor{
		Name:    "email-main",
		Kind:    plugin.KindChannel,
		Module:  "email",
		Enabled: true,
		Config:  map[string]string{"host": "smtp.example.com", "from": "digest@example.com"},
	})
	if err == nil {
		t.Fatal("expected error for missing recipients")
	}
}

func TestRegisterBuiltins(t *testing.T) {
	reg := plugin.NewRegistry()
	RegisterBuiltins(reg)

	err := reg.Upsert(telegramDescriptor(map[string]string{"token": "tok", "chat_id": "-1"}))
	if err != nil {
		t.Fatalf("upsert telegram descriptor: %v", err)
	}
	if err := reg.Upsert(plugin.Descriptor{
		Name:    "nowhere",
		Kind:    plugin.KindChannel,
		Module:  "carrier-pigeon",
		Enabled: true,
	}); err == nil {
		t.Fatal("expected error for unknown module")
	}
}
