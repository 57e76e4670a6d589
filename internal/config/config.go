package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	CRDBDSN        string
	MongoURI       string
	RedisAddr      string
	RabbitURL      string
	GatewayBaseURL string
	GatewayKeyID   string
	GatewaySecret  string
	Currency       string
	HoldTTL        time.Duration
	// ShowtimeCutoff is the buffer before the showtime start after which
	// no further bookings or invite joins are accepted.
	ShowtimeCutoff    time.Duration
	ConvenienceFeePct float64
	TaxPct            float64
	OTLPEndpoint      string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	holdTTL, _ := time.ParseDuration(os.Getenv("HOLD_TTL"))
	if holdTTL == 0 {
		holdTTL = 5 * time.Minute
	}
	cutoff, _ := time.ParseDuration(os.Getenv("SHOWTIME_CUTOFF"))
	if cutoff == 0 {
		cutoff = 15 * time.Minute
	}
	currency := os.Getenv("CURRENCY")
	if currency == "" {
		currency = "INR"
	}

	return &Config{
		CRDBDSN:           os.Getenv("CRDB_DSN"),
		MongoURI:          os.Getenv("MONGO_URI"),
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		RabbitURL:         os.Getenv("RABBIT_URL"),
		GatewayBaseURL:    os.Getenv("GATEWAY_BASE_URL"),
		GatewayKeyID:      os.Getenv("GATEWAY_KEY_ID"),
		GatewaySecret:     os.Getenv("GATEWAY_SECRET"),
		Currency:          currency,
		HoldTTL:           holdTTL,
		ShowtimeCutoff:    cutoff,
		ConvenienceFeePct: floatEnv("CONVENIENCE_FEE_PCT", 5),
		TaxPct:            floatEnv("TAX_PCT", 18),
		OTLPEndpoint:      os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}, nil
}

func floatEnv(key string, def float64) float64 {
	v, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return def
	}
	return v
}
