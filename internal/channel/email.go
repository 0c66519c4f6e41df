package channel

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/mohammad-safakhou/newsflow/internal/plugin"
)

type emailConfig struct {
	Host     string `config:"host"`
	Port     int    `config:"port"`
	Username string `config:"username"`
	Password string `config:"password"`
	From     string `config:"from"`
	To       string `config:"to"`
	Subject  string `config:"subject"`
}

type emailChannel struct {
	name string
	cfg  emailConfig
	to   []string

	// indirection for tests; defaults to smtp.SendMail
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewEmail(d plugin.Descriptor) (plugin.Channel, error) {
	cfg := emailConfig{Port: 587, Subject: "News digest"}
	if err := plugin.DecodeConfig(d.Config, &cfg); err != nil {
		return nil, fmt.Errorf("channel %s: %w", d.Name, err)
	}
	if cfg.Host == "" {
		return nil, fmt.Errorf("channel %s: host is required", d.Name)
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("channel %s: from is required", d.Name)
	}

	var to []string
	for _, addr := range strings.Split(cfg.To, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			to = append(to, addr)
		}
	}
	if len(to) == 0 {
		return nil, fmt.Errorf("channel %s: to is required", d.Name)
	}

	return &emailChannel{name: d.Name, cfg: cfg, to: to, sendMail: smtp.SendMail}, nil
}

func (c *emailChannel) Name() string { return c.name }

func (c *emailChannel) Send(_ context.Context, message, topic string) (bool, error) {
	subject := c.cfg.Subject
	if topic != "" {
		subject = fmt.Sprintf("%s [%s]", subject, topic)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", c.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(c.to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(message)

	var auth smtp.Auth
	if c.cfg.Username != "" {
		auth = smtp.PlainAuth("", c.cfg.Username, c.cfg.Password, c.cfg.Host)
	}

	addr := fmt.Sprintf("%s:%d", c.cfg.Host, c.cfg.Port)
	if err := c.sendMail(addr, auth, c.cfg.From, c.to, []byte(b.String())); err != nil {
		return false, fmt.Errorf("email send: %w", err)
	}
	return true, nil
}
