package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"backupd/internal/config"
)

// TelegramSender posts run failure reports to a Telegram chat. With no
// token or chat configured every send is a silent no-op.
type TelegramSender struct {
	BotToken string
	ChatID   string
	BaseURL  string
	Client   *http.Client
}

func NewTelegram(tc config.TelegramConfig) *TelegramSender {
	return &TelegramSender{
		BotToken: tc.BotToken,
		ChatID:   tc.ChatID,
		BaseURL:  "https://api.telegram.org",
		Client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *TelegramSender) Enabled() bool {
	return s.BotToken != "" && s.ChatID != ""
}

func (s *TelegramSender) Send(message string) error {
	if !s.Enabled() {
		return nil
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", s.BaseURL, s.BotToken)

	payload := map[string]string{
		"chat_id": s.ChatID,
		"text":    message,
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal notification payload: %w", err)
	}

	resp, err := s.Client.Post(url, "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram api returned non-200 status: %d", resp.StatusCode)
	}

	return nil
}
