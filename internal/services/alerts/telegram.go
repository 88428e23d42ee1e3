package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/foresight/internal/models"
)

const telegramAPIURL = "https://api.telegram.org"

// TelegramNotifier sends alerts to a chat through the Telegram Bot API
type TelegramNotifier struct {
	baseURL    string
	botToken   string
	chatID     int64
	httpClient *http.Client
	logger     arbor.ILogger
}

// NewTelegramNotifier creates a notifier for one chat
func NewTelegramNotifier(botToken string, chatID int64, logger arbor.ILogger) (*TelegramNotifier, error) {
	if botToken == "" || chatID == 0 {
		return nil, fmt.Errorf("telegram bot token and chat id are required")
	}
	return &TelegramNotifier{
		baseURL:  telegramAPIURL,
		botToken: botToken,
		chatID:   chatID,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}, nil
}

// sendMessageRequest represents a Telegram sendMessage request
type sendMessageRequest struct {
	ChatID    int64  `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode,omitempty"`
}

// sendMessageResponse represents a Telegram API response
type sendMessageResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description,omitempty"`
}

// Name identifies the notifier in logs
func (n *TelegramNotifier) Name() string {
	return "telegram"
}

// Notify sends the alert as an HTML message
func (n *TelegramNotifier) Notify(ctx context.Context, alert *models.Alert) error {
	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)

	reqBody := sendMessageRequest{
		ChatID:    n.chatID,
		Text:      FormatAlert(alert),
		ParseMode: "HTML",
	}
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var response sendMessageResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return fmt.Errorf("failed to unmarshal response (status %d): %w", resp.StatusCode, err)
	}
	if !response.OK {
		return fmt.Errorf("telegram API error: %s", response.Description)
	}

	n.logger.Debug().Str("alert_id", alert.ID).Msg("Alert sent to Telegram")
	return nil
}

// FormatAlert renders an alert as Telegram HTML
func FormatAlert(alert *models.Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>%s deviation</b> [%s]\n", html.EscapeString(strings.ReplaceAll(string(alert.Type), "_", " ")), strings.ToUpper(string(alert.Severity)))
	fmt.Fprintf(&b, "Profile: <code>%s</code>\n", html.EscapeString(alert.ProfileID))
	fmt.Fprintf(&b, "%s\n", html.EscapeString(alert.Message))
	fmt.Fprintf(&b, "<i>%s</i>", alert.CreatedAt.UTC().Format(time.RFC1123))
	return b.String()
}
