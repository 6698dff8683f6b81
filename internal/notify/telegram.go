package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// Notifier — best-effort уведомления. Доставка не входит в критический путь
// платежа, поэтому методы ничего не возвращают: ошибки логируются и глотаются.
type Notifier interface {
	SendMessage(ctx context.Context, chatID, text string)
	NotifyAdmins(ctx context.Context, text string)
}

type TelegramNotifier struct {
	botToken   string
	adminIDs   []string
	apiURL     string
	httpClient *http.Client
}

func NewTelegramNotifier(botToken string, adminIDs []string) *TelegramNotifier {
	return &TelegramNotifier{
		botToken:   botToken,
		adminIDs:   adminIDs,
		apiURL:     "https://api.telegram.org",
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

func (t *TelegramNotifier) SendMessage(ctx context.Context, chatID, text string) {
	if t.botToken == "" {
		log.Println("TelegramNotifier: TELEGRAM_BOT_TOKEN не задан, сообщение не отправлено")
		return
	}

	body, err := json.Marshal(sendMessageRequest{ChatID: chatID, Text: text, ParseMode: "HTML"})
	if err != nil {
		log.Printf("TelegramNotifier: marshal message for %s: %v", chatID, err)
		return
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiURL, t.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		log.Printf("TelegramNotifier: build request for %s: %v", chatID, err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := t.httpClient.Do(req)
	if err != nil {
		log.Printf("TelegramNotifier: send to %s failed: %v", chatID, err)
		return
	}
	defer res.Body.Close()
	io.Copy(io.Discard, res.Body)

	if res.StatusCode != http.StatusOK {
		log.Printf("TelegramNotifier: send to %s returned HTTP %d", chatID, res.StatusCode)
		return
	}
	log.Printf("TelegramNotifier: сообщение отправлено %s", chatID)
}

// NotifyAdmins рассылает текст всем администраторам, каждому независимо
func (t *TelegramNotifier) NotifyAdmins(ctx context.Context, text string) {
	for _, adminID := range t.adminIDs {
		t.SendMessage(ctx, adminID, text)
	}
}
