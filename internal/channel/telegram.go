package channel

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mohammad-safakhou/newsflow/internal/httpx"
	"github.com/mohammad-safakhou/newsflow/internal/plugin"
)

const telegramDefaultAPIBase = "https://api.telegram.org"

// maxMessageLen leaves room for the part marker under Telegram's 4096 cap.
const maxMessageLen = 3900

type telegramConfig struct {
	Token      string        `config:"token"`
	ChatID     string        `config:"chat_id"`
	TopicChats string        `config:"topic_chats"`
	ParseMode  string        `config:"parse_mode"`
	APIBase    string        `config:"api_base"`
	Timeout    time.Duration `config:"timeout"`
	Retries    int           `config:"retries"`
}

type telegramChannel struct {
	name       string
	cfg        telegramConfig
	topicChats map[string]string
	http       *httpx.Client
}

func NewTelegram(d plugin.Descriptor) (plugin.Channel, error) {
	var cfg telegramConfig
	if err := plugin.DecodeConfig(d.Config, &cfg); err != nil {
		return nil, fmt.Errorf("channel %s: %w", d.Name, err)
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("channel %s: token is required", d.Name)
	}
	if cfg.ChatID == "" {
		return nil, fmt.Errorf("channel %s: chat_id is required", d.Name)
	}
	if cfg.APIBase == "" {
		cfg.APIBase = telegramDefaultAPIBase
	}

	topicChats, err := parseTopicChats(cfg.TopicChats)
	if err != nil {
		return nil, fmt.Errorf("channel %s: %w", d.Name, err)
	}

	return &telegramChannel{
		name:       d.Name,
		cfg:        cfg,
		topicChats: topicChats,
		http:       httpx.NewClient(cfg.Timeout, cfg.Retries, 0),
	}, nil
}

// parseTopicChats reads "topic=chat,topic=chat" overrides.
func parseTopicChats(raw string) (map[string]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	out := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		topic, chat, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || topic == "" || chat == "" {
			return nil, fmt.Errorf("invalid topic_chats entry %q", pair)
		}
		out[strings.ToLower(topic)] = chat
	}
	return out, nil
}

func (c *telegramChannel) Name() string { return c.name }

func (c *telegramChannel) chatFor(topic string) string {
	if chat, ok := c.topicChats[strings.ToLower(topic)]; ok {
		return chat
	}
	return c.cfg.ChatID
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

func (c *telegramChannel) Send(ctx context.Context, message, topic string) (bool, error) {
	chatID := c.chatFor(topic)
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", c.cfg.APIBase, c.cfg.Token)

	for _, chunk := range splitMessage(message, maxMessageLen) {
		payload := map[string]interface{}{
			"chat_id":                  chatID,
			"text":                     chunk,
			"disable_web_page_preview": true,
		}
		if c.cfg.ParseMode != "" {
			payload["parse_mode"] = c.cfg.ParseMode
		}

		var resp telegramResponse
		if err := c.http.DoJSON(ctx, "POST", endpoint, nil, payload, &resp); err != nil {
			return false, fmt.Errorf("telegram send: %w", err)
		}
		if !resp.OK {
			return false, fmt.Errorf("telegram send: %s", resp.Description)
		}
	}
	return true, nil
}

// splitMessage cuts text into chunks of at most limit runes, preferring to
// break at a newline. Multi-chunk messages get "(part i/n)" markers.
func splitMessage(text string, limit int) []string {
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}

	var chunks []string
	for start := 0; start < len(runes); {
		end := start + limit
		if end >= len(runes) {
			chunks = append(chunks, string(runes[start:]))
			break
		}
		cut := end
		for i := end; i > start; i-- {
			if runes[i-1] == '\n' {
				cut = i
				break
			}
		}
		chunks = append(chunks, strings.TrimRight(string(runes[start:cut]), "\n"))
		start = cut
	}

	for i := range chunks {
		chunks[i] = fmt.Sprintf("%s\n(part %d/%d)", chunks[i], i+1, len(chunks))
	}
	return chunks
}
