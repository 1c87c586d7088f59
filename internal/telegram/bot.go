package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"

	"github.com/ObiAU/disasterfeed/internal/models"
)

// Sender is the subset of *tgbotapi.BotAPI the bot needs.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type Bot struct {
	api           *tgbotapi.BotAPI
	sender        Sender
	webhookURL    string
	subscriptions map[int64]*models.AlertSubscription
	mu            sync.RWMutex
	logger        logrus.FieldLogger
}

func NewBot(token, webhookURL string, logger logrus.FieldLogger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	b := NewBotWithSender(api, logger)
	b.api = api
	b.webhookURL = webhookURL
	return b, nil
}

func NewBotWithSender(sender Sender, logger logrus.FieldLogger) *Bot {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Bot{
		sender:        sender,
		subscriptions: make(map[int64]*models.AlertSubscription),
		logger:        logger.WithField("component", "telegram"),
	}
}

// Start registers the webhook with Telegram. Updates then arrive through
// WebhookHandler.
func (b *Bot) Start(ctx context.Context) error {
	if b.api == nil || b.webhookURL == "" {
		return nil
	}

	webhook, err := tgbotapi.NewWebhook(b.webhookURL)
	if err != nil {
		return err
	}

	if _, err := b.api.Request(webhook); err != nil {
		return err
	}

	info, err := b.api.GetWebhookInfo()
	if err != nil {
		return err
	}

	if info.LastErrorDate != 0 {
		b.logger.WithField("last_error", info.LastErrorMessage).Warn("Telegram webhook reported an error")
	}
	return nil
}

func (b *Bot) WebhookHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var update tgbotapi.Update
		if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
			http.Error(w, "invalid update", http.StatusBadRequest)
			return
		}
		b.HandleUpdate(r.Context(), update)
		w.WriteHeader(http.StatusOK)
	}
}

func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	if update.Message == nil || update.Message.From == nil || update.Message.Chat == nil {
		return
	}

	userID := update.Message.From.ID
	chatID := update.Message.Chat.ID
	text := update.Message.Text

	switch {
	case strings.HasPrefix(text, "/start"):
		b.handleStart(chatID)
	case strings.HasPrefix(text, "/alert"):
		b.handleAlertCommand(userID, chatID, text)
	case strings.HasPrefix(text, "/list"):
		b.handleListAlerts(userID, chatID)
	case strings.HasPrefix(text, "/help"):
		b.handleHelp(chatID)
	default:
		b.handleUnknownCommand(chatID)
	}
}

func (b *Bot) handleStart(chatID int64) {
	b.sendMessage(chatID, `Welcome to the disaster feed alerts! 🚨

I'll forward new social posts about disasters that match your filters.

/alert set keywords=flood,earthquake
/alert set platforms=twitter verified=true
/alert off
/list - View your current alert
/help - Show this help message`)
}

func (b *Bot) handleAlertCommand(userID, chatID int64, text string) {
	parts := strings.Fields(text)
	if len(parts) == 2 && parts[1] == "off" {
		b.mu.Lock()
		sub, ok := b.subscriptions[userID]
		if ok {
			sub.Enabled = false
		}
		b.mu.Unlock()

		if !ok {
			b.sendMessage(chatID, "No alert configured.")
			return
		}
		b.sendMessage(chatID, "Alert disabled.")
		return
	}

	if len(parts) < 3 || parts[1] != "set" {
		b.sendMessage(chatID, "Invalid alert format. Use: /alert set keywords=flood,earthquake verified=true")
		return
	}

	sub, err := ParseSubscription(userID, chatID, parts[2:])
	if err != nil {
		b.sendMessage(chatID, html.EscapeString(err.Error()))
		return
	}

	b.mu.Lock()
	b.subscriptions[userID] = sub
	b.mu.Unlock()

	b.sendMessage(chatID, "Alert configured! 🎯\n\n"+describe(sub))
}

// ParseSubscription reads key=value options: keywords, platforms (comma
// separated) and verified (bool).
func ParseSubscription(userID, chatID int64, options []string) (*models.AlertSubscription, error) {
	sub := &models.AlertSubscription{UserID: userID, ChatID: chatID, Enabled: true}

	for _, option := range options {
		key, value, ok := strings.Cut(option, "=")
		if !ok {
			return nil, fmt.Errorf("option %q must be key=value", option)
		}

		switch key {
		case "keywords":
			sub.Keywords = append(sub.Keywords, splitList(value)...)
		case "platforms":
			sub.Platforms = append(sub.Platforms, splitList(value)...)
		case "verified":
			verified, err := strconv.ParseBool(value)
			if err != nil {
				return nil, fmt.Errorf("verified must be true or false")
			}
			sub.VerifiedOnly = verified
		default:
			return nil, fmt.Errorf("unknown option %q", key)
		}
	}
	return sub, nil
}

func (b *Bot) handleListAlerts(userID, chatID int64) {
	b.mu.RLock()
	sub, exists := b.subscriptions[userID]
	var text string
	if exists {
		text = fmt.Sprintf("Your current alert: 📋\n\n%s\nStatus: %s", describe(sub),
			map[bool]string{true: "Enabled", false: "Disabled"}[sub.Enabled])
	}
	b.mu.RUnlock()

	if !exists {
		b.sendMessage(chatID, "No alerts configured. Use /alert set to create one.")
		return
	}
	b.sendMessage(chatID, text)
}

func (b *Bot) handleHelp(chatID int64) {
	b.sendMessage(chatID, `Disaster feed alerts help 📖

/start - Welcome message
/alert set [options] - Configure your alert
/alert off - Pause your alert
/list - View your current alert
/help - Show this help

Options:
• keywords=flood,wildfire - match disaster keywords or post text
• platforms=twitter - only these platforms
• verified=true - only verified accounts`)
}

func (b *Bot) handleUnknownCommand(chatID int64) {
	b.sendMessage(chatID, "Unknown command. Use /help for available commands.")
}

// Notify pushes each post to every enabled subscription it matches.
func (b *Bot) Notify(ctx context.Context, posts []models.NormalizedPost) {
	b.mu.RLock()
	subs := make([]models.AlertSubscription, 0, len(b.subscriptions))
	for _, sub := range b.subscriptions {
		if sub.Enabled {
			subs = append(subs, *sub)
		}
	}
	b.mu.RUnlock()

	for _, post := range posts {
		if ctx.Err() != nil {
			return
		}
		for _, sub := range subs {
			if Matches(post, sub) {
				b.sendMessage(sub.ChatID, formatAlertMessage(post))
			}
		}
	}
}

func Matches(post models.NormalizedPost, sub models.AlertSubscription) bool {
	if sub.VerifiedOnly && !post.Verified {
		return false
	}

	if len(sub.Platforms) > 0 && !containsFold(sub.Platforms, post.Platform) {
		return false
	}

	if len(sub.Keywords) == 0 {
		return true
	}

	content := strings.ToLower(post.Content)
	for _, keyword := range sub.Keywords {
		if containsFold(post.DisasterKeywords, keyword) || strings.Contains(content, strings.ToLower(keyword)) {
			return true
		}
	}
	return false
}

func formatAlertMessage(post models.NormalizedPost) string {
	location := "unknown"
	if post.Location != nil && *post.Location != "" {
		location = *post.Location
	}

	verified := ""
	if post.Verified {
		verified = " ✔️"
	}

	return fmt.Sprintf(`🚨 <b>Disaster post</b>

👤 @%s%s on %s
📍 %s
🏷️ %s

%s

🕒 %s`,
		html.EscapeString(post.Username), verified,
		html.EscapeString(post.Platform),
		html.EscapeString(location),
		html.EscapeString(strings.Join(post.DisasterKeywords, ", ")),
		html.EscapeString(post.Content),
		post.CreatedAt.UTC().Format("2006-01-02 15:04 MST"))
}

func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true

	if _, err := b.sender.Send(msg); err != nil {
		b.logger.WithError(err).WithField("chat_id", chatID).Error("Failed to send telegram message")
	}
}

func describe(sub *models.AlertSubscription) string {
	return fmt.Sprintf("Keywords: %s\nPlatforms: %s\nVerified only: %t",
		html.EscapeString(listOrAny(sub.Keywords)), html.EscapeString(listOrAny(sub.Platforms)), sub.VerifiedOnly)
}

func listOrAny(values []string) string {
	if len(values) == 0 {
		return "any"
	}
	return strings.Join(values, ", ")
}

func splitList(value string) []string {
	var out []string
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func containsFold(values []string, target string) bool {
	for _, v := range values {
		if strings.EqualFold(v, target) {
			return true
		}
	}
	return false
}
