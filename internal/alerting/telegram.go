package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"trade-alert-engine/internal/logging"
)

// TelegramPublisher mirrors fired alerts into an operator chat through the
// Bot API.
type TelegramPublisher struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramPublisher builds a Bot API client.
func NewTelegramPublisher(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramPublisher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramPublisher{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logging.Component(logger, "publish_telegram"),
	}
}

// Publish calls sendMessage. The channel only appears in the text; every
// alert goes to the configured chat.
func (n *TelegramPublisher) Publish(ctx context.Context, channel string, payload Payload) error {
	body, err := json.Marshal(map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(channel, payload),
	})
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram unexpected status: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil && !result.OK {
		return fmt.Errorf("telegram returned ok=false")
	}

	n.logger.Info().Str("event_id", payload.ID).
		Str("symbol", payload.Symbol).
		Str("type", payload.Type).
		Msg("alert mirrored to telegram")
	return nil
}

func renderMessage(channel string, p Payload) string {
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("[%s] %s %s\n", p.Type, p.Symbol, p.Timeframe))
	if p.TriggerValue != nil {
		builder.WriteString(fmt.Sprintf("Value: %s\n", decimal.NewFromFloat(*p.TriggerValue).StringFixed(4)))
	}
	builder.WriteString(fmt.Sprintf("Bias: %s\n", p.TrendBias))
	builder.WriteString(fmt.Sprintf("Confidence: %d/100\n", p.Confidence))
	builder.WriteString(fmt.Sprintf("Time: %s UTC\n", p.CreatedAt.UTC().Format(time.RFC3339)))
	builder.WriteString(fmt.Sprintf("Channel: %s", channel))
	return builder.String()
}

var _ Publisher = (*TelegramPublisher)(nil)
