package alert

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/alexrivas/mirrorbot/internal/ports"
)

// newTestBot points a tgbotapi.BotAPI at a local double so New doesn't hit
// the real Telegram API. getMe must succeed for tgbotapi.NewBotAPI to
// return; subsequent sendMessage calls are recorded for assertions.
func newTestBot(t *testing.T) (*tgbotapi.BotAPI, *[]string) {
	t.Helper()
	var sentTexts []string

	mux := http.NewServeMux()
	mux.HandleFunc("/bottest-token/getMe", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok":     true,
			"result": tgbotapi.User{ID: 1, FirstName: "bot", UserName: "testbot"},
		})
	})
	mux.HandleFunc("/bottest-token/sendMessage", func(w http.ResponseWriter, r *http.Request) {
		sentTexts = append(sentTexts, r.FormValue("text"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok":     true,
			"result": tgbotapi.Message{MessageID: 1},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	bot, err := tgbotapi.NewBotAPIWithAPIEndpoint("test-token", srv.URL+"/bot%s/%s")
	require.NoError(t, err)
	return bot, &sentTexts
}

func TestNotifyDropsWhenNoChatBound(t *testing.T) {
	bot, sent := newTestBot(t)
	tg := &Telegram{bot: bot, chatID: 0}

	err := tg.Notify(t.Context(), ports.SeverityWarning, "exchange_unhealthy", nil)
	require.NoError(t, err)
	assert.Empty(t, *sent)
}

func TestNotifySendsFormattedMessage(t *testing.T) {
	bot, sent := newTestBot(t)
	tg := &Telegram{bot: bot, chatID: 42}

	err := tg.Notify(t.Context(), ports.SeverityCritical, "circuit_breaker_triggered", map[string]string{
		"reason": "max_daily_loss",
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(*sent) == 1 }, time.Second, 10*time.Millisecond)
	assert.Contains(t, (*sent)[0], "circuit_breaker_triggered")
	assert.Contains(t, (*sent)[0], "max_daily_loss")
}

func TestFormatMessageOrdersFieldsDeterministically(t *testing.T) {
	msg := formatMessage(ports.SeverityInfo, "startup", map[string]string{"b": "2", "a": "1"})
	assert.Less(t, indexOf(msg, "a:"), indexOf(msg, "b:"))
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
