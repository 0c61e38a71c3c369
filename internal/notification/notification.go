package notification

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"propfirm-risk-engine/internal/events"
)

// NotificationType represents the type of notification
type NotificationType string

const (
	NotifyMarginCall NotificationType = "margin_call"
	NotifyStopOut    NotificationType = "stop_out"
	NotifyBreach     NotificationType = "breach"
	NotifyInfo       NotificationType = "info"
)

// Notification represents a notification message
type Notification struct {
	Type      NotificationType
	Title     string
	Message   string
	AccountID string
	PnL       decimal.Decimal
	Timestamp time.Time
}

// Notifier interface for different notification providers
type Notifier interface {
	Send(notification *Notification) error
	Name() string
	IsEnabled() bool
}

// Manager fans risk notifications out to the configured providers. Margin
// calls repeat every tick while the account hovers at the threshold, so
// they are rate limited per account; stop-outs and breaches always send.
type Manager struct {
	mu        sync.Mutex
	notifiers []Notifier
	enabled   bool

	marginCallCooldown time.Duration
	lastMarginCall     map[string]time.Time
}

// NewManager creates a new notification manager
func NewManager() *Manager {
	return &Manager{
		notifiers:          make([]Notifier, 0),
		enabled:            true,
		marginCallCooldown: 5 * time.Minute,
		lastMarginCall:     make(map[string]time.Time),
	}
}

// AddNotifier adds a notification provider
func (m *Manager) AddNotifier(n Notifier) {
	m.notifiers = append(m.notifiers, n)
}

// AttachToBus subscribes the manager to the risk events it forwards.
func (m *Manager) AttachToBus(bus *events.EventBus) {
	bus.Subscribe(events.EventMarginCall, m.onMarginCall)
	bus.Subscribe(events.EventStopOut, m.onStopOut)
	bus.Subscribe(events.EventAccountBreached, m.onBreach)
}

// Send sends a notification to all enabled providers
func (m *Manager) Send(notification *Notification) error {
	if !m.enabled {
		return nil
	}

	var lastErr error
	for _, n := range m.notifiers {
		if n.IsEnabled() {
			if err := n.Send(notification); err != nil {
				log.Warn().Err(err).
					Str("component", "notification").
					Str("provider", n.Name()).
					Msg("notification send failed")
				lastErr = err
			}
		}
	}
	return lastErr
}

func (m *Manager) onMarginCall(ev events.Event) {
	accountID, _ := ev.Data["account_id"].(string)
	if !m.allowMarginCall(accountID, ev.Timestamp) {
		return
	}

	marginLevel, _ := ev.Data["margin_level"].(string)
	equity, _ := ev.Data["equity"].(string)
	m.Send(&Notification{
		Type:      NotifyMarginCall,
		Title:     "Margin call",
		Message:   fmt.Sprintf("Account %s at margin level %s%% (equity %s)", accountID, marginLevel, equity),
		AccountID: accountID,
		Timestamp: ev.Timestamp,
	})
}

func (m *Manager) onStopOut(ev events.Event) {
	accountID, _ := ev.Data["account_id"].(string)
	symbol, _ := ev.Data["symbol"].(string)
	marginLevel, _ := ev.Data["margin_level"].(string)
	pnl, _ := ev.Data["pnl"].(string)
	m.Send(&Notification{
		Type:      NotifyStopOut,
		Title:     "Stop out",
		Message:   fmt.Sprintf("Account %s at margin level %s%%: liquidated %s (pnl %s)", accountID, marginLevel, symbol, pnl),
		AccountID: accountID,
		Timestamp: ev.Timestamp,
	})
}

func (m *Manager) onBreach(ev events.Event) {
	accountID, _ := ev.Data["account_id"].(string)
	reason, _ := ev.Data["reason"].(string)
	m.Send(&Notification{
		Type:      NotifyBreach,
		Title:     "Account breached",
		Message:   fmt.Sprintf("Account %s: %s", accountID, reason),
		AccountID: accountID,
		Timestamp: ev.Timestamp,
	})
}

// allowMarginCall rate limits margin-call notifications per account.
func (m *Manager) allowMarginCall(accountID string, at time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if last, ok := m.lastMarginCall[accountID]; ok && at.Sub(last) < m.marginCallCooldown {
		return false
	}
	m.lastMarginCall[accountID] = at
	return true
}

// =============================================================================
// TELEGRAM NOTIFIER
// =============================================================================

// TelegramNotifier sends notifications via the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	enabled  bool
	client   *http.Client
}

// TelegramConfig holds Telegram configuration
type TelegramConfig struct {
	BotToken string
	ChatID   string
	Enabled  bool
}

// NewTelegramNotifier creates a new Telegram notifier
func NewTelegramNotifier(config TelegramConfig) *TelegramNotifier {
	return &TelegramNotifier{
		botToken: config.BotToken,
		chatID:   config.ChatID,
		enabled:  config.Enabled && config.BotToken != "" && config.ChatID != "",
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *TelegramNotifier) Name() string {
	return "telegram"
}

func (t *TelegramNotifier) IsEnabled() bool {
	return t.enabled
}

func (t *TelegramNotifier) Send(notification *Notification) error {
	if !t.enabled {
		return nil
	}

	message := fmt.Sprintf("*%s*\n\n%s", notification.Title, notification.Message)

	payload := map[string]interface{}{
		"chat_id":    t.chatID,
		"text":       message,
		"parse_mode": "Markdown",
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.botToken)
	resp, err := t.client.Post(url, "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode)
	}

	return nil
}

// =============================================================================
// DISCORD NOTIFIER
// =============================================================================

// DiscordNotifier sends notifications via Discord webhook
type DiscordNotifier struct {
	webhookURL string
	enabled    bool
	client     *http.Client
}

// DiscordConfig holds Discord configuration
type DiscordConfig struct {
	WebhookURL string
	Enabled    bool
}

// NewDiscordNotifier creates a new Discord notifier
func NewDiscordNotifier(config DiscordConfig) *DiscordNotifier {
	return &DiscordNotifier{
		webhookURL: config.WebhookURL,
		enabled:    config.Enabled && config.WebhookURL != "",
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (d *DiscordNotifier) Name() string {
	return "discord"
}

func (d *DiscordNotifier) IsEnabled() bool {
	return d.enabled
}

func (d *DiscordNotifier) Send(notification *Notification) error {
	if !d.enabled {
		return nil
	}

	color := 0xFFA500 // amber for warnings
	if notification.Type == NotifyBreach || notification.Type == NotifyStopOut {
		color = 0xFF0000
	}

	embed := map[string]interface{}{
		"title":       notification.Title,
		"description": notification.Message,
		"color":       color,
		"timestamp":   notification.Timestamp.Format(time.RFC3339),
	}

	if notification.AccountID != "" {
		embed["fields"] = []map[string]interface{}{
			{"name": "Account", "value": notification.AccountID, "inline": true},
		}
	}

	payload := map[string]interface{}{
		"embeds": []map[string]interface{}{embed},
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal discord payload: %w", err)
	}

	resp, err := d.client.Post(d.webhookURL, "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to send discord message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("discord API returned status %d", resp.StatusCode)
	}

	return nil
}
