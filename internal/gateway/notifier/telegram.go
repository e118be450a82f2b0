package notifier

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const telegramAPIBase = "https://api.telegram.org"

// Telegram pushes trade events to a configured chat or channel.
type Telegram struct {
	botToken string
	chatID   string
	client   *http.Client

	apiBase   string
	attempts  int
	retryWait time.Duration
}

func NewTelegram(botToken, chatID string) *Telegram {
	return &Telegram{
		botToken:  botToken,
		chatID:    chatID,
		client:    &http.Client{Timeout: 15 * time.Second},
		apiBase:   telegramAPIBase,
		attempts:  3,
		retryWait: time.Second,
	}
}

// SendText delivers one Markdown message, retrying transient failures with a
// doubling wait between attempts.
func (t *Telegram) SendText(text string) error {
	if t.botToken == "" || t.chatID == "" {
		return fmt.Errorf("telegram config incomplete")
	}
	body, err := json.Marshal(map[string]any{
		"chat_id":    t.chatID,
		"text":       text,
		"parse_mode": "Markdown",
	})
	if err != nil {
		return fmt.Errorf("telegram payload: %w", err)
	}

	var lastErr error
	wait := t.retryWait
	for i := 0; i < t.attempts; i++ {
		if i > 0 {
			time.Sleep(wait)
			wait *= 2
		}
		if lastErr = t.post(body); lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("telegram send after %d attempts: %w", t.attempts, lastErr)
}

func (t *Telegram) post(body []byte) error {
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.botToken)
	resp, err := t.client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("status=%d", resp.StatusCode)
	}
	return nil
}
