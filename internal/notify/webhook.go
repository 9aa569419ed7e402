// Package notify delivers alert events to Discord and Telegram webhooks.
package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/tos-network/poolwatch/internal/alerts"
	"github.com/tos-network/poolwatch/internal/util"
)

// WebhookConfig holds webhook configuration
type WebhookConfig struct {
	DiscordURL   string `mapstructure:"discord_url"`
	TelegramURL  string `mapstructure:"telegram_url"`
	TelegramBot  string `mapstructure:"telegram_bot"`
	TelegramChat string `mapstructure:"telegram_chat"`
	Enabled      bool   `mapstructure:"enabled"`
	DashboardURL string `mapstructure:"dashboard_url"`
}

// Retry configuration
const (
	MaxRetries     = 3
	RetryBaseDelay = 2 * time.Second
	rateLimitDelay = 5 * time.Second
)

const (
	defaultTelegramURL = "https://api.telegram.org"
	maxDiscordEmbeds   = 10
	maxFieldLength     = 1024
	footerText         = "poolwatch"
)

// Embed colors per alert kind
var kindColors = map[alerts.Kind]int{
	alerts.KindWorkerOffline: 0xFF0000,
	alerts.KindBackOnline:    0x00FF00,
	alerts.KindProfitDrop:    0xFFA500,
}

// Notifier handles sending notifications
type Notifier struct {
	cfg    *WebhookConfig
	client *http.Client
	sleep  func(time.Duration)
	wg     sync.WaitGroup
}

// NewNotifier creates a new notifier
func NewNotifier(cfg *WebhookConfig) *Notifier {
	return &Notifier{
		cfg: cfg,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		sleep: time.Sleep,
	}
}

// Notify sends events to every configured channel. Delivery runs in the
// background; Wait blocks until it finishes.
func (n *Notifier) Notify(events []alerts.Event) {
	if !n.cfg.Enabled || len(events) == 0 {
		return
	}

	if n.cfg.DiscordURL != "" {
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			for _, msg := range n.discordMessages(events) {
				if err := n.sendDiscordMessage(msg); err != nil {
					util.Warnf("Failed to send Discord notification after %d retries: %v", MaxRetries, err)
				}
			}
		}()
	}

	if n.cfg.TelegramBot != "" && n.cfg.TelegramChat != "" {
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			for _, ev := range events {
				if err := n.sendTelegramMessage(telegramText(ev)); err != nil {
					util.Warnf("Failed to send Telegram notification after %d retries: %v", MaxRetries, err)
				}
			}
		}()
	}
}

// Wait blocks until in-flight deliveries complete.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

// DiscordEmbed represents a Discord embed object
type DiscordEmbed struct {
	Title       string         `json:"title,omitempty"`
	Description string         `json:"description,omitempty"`
	URL         string         `json:"url,omitempty"`
	Color       int            `json:"color,omitempty"`
	Fields      []DiscordField `json:"fields,omitempty"`
	Timestamp   string         `json:"timestamp,omitempty"`
	Footer      *DiscordFooter `json:"footer,omitempty"`
}

// DiscordField represents a field in a Discord embed
type DiscordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// DiscordFooter represents the footer of a Discord embed
type DiscordFooter struct {
	Text string `json:"text"`
}

// DiscordMessage represents a Discord webhook message
type DiscordMessage struct {
	Content string         `json:"content,omitempty"`
	Embeds  []DiscordEmbed `json:"embeds,omitempty"`
}

// discordMessages builds one embed per event, batched to Discord's
// per-message embed limit.
func (n *Notifier) discordMessages(events []alerts.Event) []DiscordMessage {
	var msgs []DiscordMessage
	for start := 0; start < len(events); start += maxDiscordEmbeds {
		end := start + maxDiscordEmbeds
		if end > len(events) {
			end = len(events)
		}
		msg := DiscordMessage{}
		for _, ev := range events[start:end] {
			msg.Embeds = append(msg.Embeds, n.discordEmbed(ev))
		}
		msgs = append(msgs, msg)
	}
	return msgs
}

func (n *Notifier) discordEmbed(ev alerts.Event) DiscordEmbed {
	embed := DiscordEmbed{
		Title:       ev.Title,
		Description: ev.Message,
		URL:         n.cfg.DashboardURL,
		Color:       kindColors[ev.Kind],
		Fields: []DiscordField{
			{Name: "Wallet", Value: walletName(ev), Inline: true},
			{Name: "Pool", Value: ev.Pool, Inline: true},
			{Name: "Coin", Value: strings.ToUpper(ev.Coin), Inline: true},
		},
		Timestamp: ev.CreatedAt.UTC().Format(time.RFC3339),
		Footer: &DiscordFooter{
			Text: footerText,
		},
	}

	if len(ev.Workers) > 0 {
		embed.Fields = append(embed.Fields, DiscordField{
			Name:  "Workers",
			Value: truncate(strings.Join(ev.Workers, ", "), maxFieldLength),
		})
	}
	if ev.Kind == alerts.KindProfitDrop {
		embed.Fields = append(embed.Fields, DiscordField{
			Name:   "Drop",
			Value:  fmt.Sprintf("%.1f%%", ev.DropPercent),
			Inline: true,
		})
	}

	return embed
}

// sendDiscordMessage sends a message to Discord with exponential backoff retry
func (n *Notifier) sendDiscordMessage(msg DiscordMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal Discord message: %w", err)
	}
	return n.postWithRetry(n.cfg.DiscordURL, body)
}

// TelegramMessage represents a Telegram bot message
type TelegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

func telegramText(ev alerts.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*%s*\n\n", escapeMarkdown(ev.Title))
	fmt.Fprintf(&b, "%s\n\n", escapeMarkdown(ev.Message))
	fmt.Fprintf(&b, "Wallet: `%s`\n", walletName(ev))
	fmt.Fprintf(&b, "Pool: `%s` (%s)", ev.Pool, strings.ToUpper(ev.Coin))
	if ev.Kind == alerts.KindProfitDrop {
		fmt.Fprintf(&b, "\nDrop: `%.1f%%`", ev.DropPercent)
	}
	return b.String()
}

// sendTelegramMessage sends a message via Telegram with exponential backoff retry
func (n *Notifier) sendTelegramMessage(text string) error {
	base := n.cfg.TelegramURL
	if base == "" {
		base = defaultTelegramURL
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", strings.TrimRight(base, "/"), n.cfg.TelegramBot)

	msg := TelegramMessage{
		ChatID:    n.cfg.TelegramChat,
		Text:      text,
		ParseMode: "Markdown",
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal Telegram message: %w", err)
	}
	return n.postWithRetry(url, body)
}

// postWithRetry posts a JSON body, retrying failures with backoff of
// 2s, 4s and waiting longer when rate limited.
func (n *Notifier) postWithRetry(url string, body []byte) error {
	var lastErr error
	for attempt := 0; attempt < MaxRetries; attempt++ {
		if attempt > 0 {
			n.sleep(RetryBaseDelay * time.Duration(1<<uint(attempt-1)))
		}

		resp, err := n.client.Post(url, "application/json", bytes.NewReader(body))
		if err != nil {
			lastErr = err
			continue
		}
		resp.Body.Close()

		if resp.StatusCode < 400 {
			return nil
		}

		lastErr = fmt.Errorf("status %d", resp.StatusCode)
		if resp.StatusCode == http.StatusTooManyRequests {
			n.sleep(rateLimitDelay)
		}
	}
	return lastErr
}

func walletName(ev alerts.Event) string {
	if ev.WalletLabel != "" {
		return ev.WalletLabel
	}
	return ev.WalletID
}

var markdownEscaper = strings.NewReplacer("_", "\\_", "*", "\\*", "`", "\\`", "[", "\\[")

// escapeMarkdown escapes Telegram legacy Markdown control characters.
func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}

// truncate shortens s to at most n bytes, marking the cut with "..."
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
