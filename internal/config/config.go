package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port             string
	TerminalKey      string
	SecretKey        string
	TinkoffAPIURL    string
	TelegramBotToken string
	AdminIDs         []string
	FirebaseKeyPath  string
	AllowedOrigins   []string
	ClientTimeout    time.Duration
	CheckInterval    time.Duration
}

// Load читает конфигурацию из .env и переменных окружения.
// TERMINAL_KEY, SECRET_KEY и FIREBASE_KEY_PATH обязательны, остальное имеет дефолты.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		fmt.Println("Warning: .env file not found")
	}

	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		TerminalKey:      os.Getenv("TERMINAL_KEY"),
		SecretKey:        os.Getenv("SECRET_KEY"),
		TinkoffAPIURL:    getEnv("TINKOFF_API_URL", "https://securepay.tinkoff.ru/v2"),
		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		AdminIDs:         splitList(os.Getenv("TELEGRAM_ADMIN_IDS")),
		FirebaseKeyPath:  getEnv("FIREBASE_KEY_PATH", "serviceAccountKey.json"),
		AllowedOrigins:   splitList(getEnv("ALLOWED_ORIGINS", "https://womenvenera.com")),
		ClientTimeout:    time.Duration(getEnvInt("CLIENT_TIMEOUT", 10)) * time.Second,
		CheckInterval:    time.Duration(getEnvInt("CHECK_INTERVAL", 3600)) * time.Second,
	}

	if cfg.TerminalKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("missing required env: TERMINAL_KEY/SECRET_KEY")
	}

	return cfg, nil
}

func (c *Config) Addr() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return ":" + c.Port
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// splitList разбирает список вида "123, 456,789" в слайс без пустых элементов
func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
