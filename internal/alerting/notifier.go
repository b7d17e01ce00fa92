package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Notification 封装一次耐药阈值告警的上下文。
type Notification struct {
	Antibiotic    string
	Month         time.Time
	LastValue     decimal.Decimal
	Mean          decimal.Decimal
	StdDev        decimal.Decimal
	Threshold     decimal.Decimal
	Trend         string
	Channels      []string
	AdditionalMsg string
}

// Notifier 定义告警输送接口。
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 告警器。
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify 调用 sendMessage API 推送文本。
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    RenderMessage(note),
	}

	body, err := json.Marshal(payload)
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
		return fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram 返回 ok=false")
		}
	}

	n.logger.Info().Str("antibiotic", note.Antibiotic).
		Time("month", note.Month).
		Str("channels", strings.Join(note.Channels, ",")).
		Msg("告警已发送 (Telegram)")
	return nil
}

// LogNotifier writes alerts to the structured log. It backs the "log" channel
// and is the fallback when no remote channel is configured.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier builds a notifier on the given logger.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "alert_log").Logger()}
}

// Notify logs the alert at warn level.
func (n *LogNotifier) Notify(_ context.Context, note Notification) error {
	n.logger.Warn().
		Str("antibiotic", note.Antibiotic).
		Time("month", note.Month).
		Str("last", note.LastValue.StringFixed(2)).
		Str("threshold", note.Threshold.StringFixed(2)).
		Str("trend", note.Trend).
		Msg("resistance above control limit")
	return nil
}

// Fanout delivers a notification to every notifier and joins their errors.
type Fanout []Notifier

// Notify calls each notifier in order; one failing channel does not stop the others.
func (f Fanout) Notify(ctx context.Context, note Notification) error {
	var errs []error
	for _, n := range f {
		if err := n.Notify(ctx, note); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RenderMessage formats the alert text shared by the channels.
func RenderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString("[SCN Resistance Alert]\n")
	builder.WriteString(fmt.Sprintf("Antibiotic: %s\n", note.Antibiotic))
	if !note.Month.IsZero() {
		builder.WriteString(fmt.Sprintf("Month: %s\n", note.Month.UTC().Format("2006-01")))
	}
	builder.WriteString(fmt.Sprintf("Resistance: %s%% (threshold %s%%)\n", note.LastValue.StringFixed(2), note.Threshold.StringFixed(2)))
	builder.WriteString(fmt.Sprintf("Baseline: mean %s%%, sd %s\n", note.Mean.StringFixed(2), note.StdDev.StringFixed(2)))
	if note.Trend != "" {
		builder.WriteString(fmt.Sprintf("Weekly trend: %s\n", note.Trend))
	}
	if len(note.Channels) > 0 {
		builder.WriteString(fmt.Sprintf("Channels: %s\n", strings.Join(note.Channels, ",")))
	}
	if note.AdditionalMsg != "" {
		builder.WriteString(note.AdditionalMsg)
	}
	return builder.String()
}

var (
	_ Notifier = (*TelegramNotifier)(nil)
	_ Notifier = (*LogNotifier)(nil)
	_ Notifier = Fanout(nil)
)
