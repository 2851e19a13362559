package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config centraliza a configuração carregada do ambiente.
type Config struct {
	Port            int
	DBDSN           string
	DBMigrate       bool
	RedisURL        string
	JWTAccessTTL    time.Duration
	JWTRefreshTTL   time.Duration
	JWTSecret       string
	AllowOrigins    []string
	RateLimitPublic RateLimitConfig
	RateLimitAuth   RateLimitConfig
	Storage         StorageConfig
	Stats           StatsConfig
	Coeficientes    CoeficienteConfig
	AnexoMaxBytes   int64
	ImportMaxBytes  int64
	MetricsEnabled  bool
}

// RateLimitConfig representa limites simples para throttling.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// StorageConfig descreve o backend de anexos.
type StorageConfig struct {
	Provider    string
	S3Endpoint  string
	S3Region    string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3PublicURL string
}

// StatsConfig controla o snapshot periódico das filas.
type StatsConfig struct {
	Enabled        bool
	Interval       time.Duration
	AlertThreshold int
	AlertWebhook   string
}

// CoeficienteConfig dimensiona o cache de coeficientes.
type CoeficienteConfig struct {
	CacheSize int
	CacheTTL  time.Duration
}

// Load carrega variáveis de ambiente e aplica defaults seguros.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	port, err := parseIntEnv("PORT", 8080)
	if err != nil || port <= 0 {
		return nil, errors.New("PORT inválida")
	}
	cfg.Port = port

	cfg.DBDSN = getEnv("DB_DSN", "")
	if cfg.DBDSN == "" {
		return nil, errors.New("DB_DSN obrigatório")
	}
	cfg.DBMigrate = parseBoolEnv("DB_MIGRATE", true)

	cfg.RedisURL = getEnv("REDIS_URL", "")
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL obrigatório")
	}

	cfg.JWTSecret = strings.TrimSpace(getEnv("JWT_SECRET", ""))
	if len(cfg.JWTSecret) < 32 {
		return nil, errors.New("JWT_SECRET deve ter pelo menos 32 caracteres")
	}

	if cfg.JWTAccessTTL, err = parseDurationEnv("JWT_ACCESS_TTL", 15*time.Minute); err != nil {
		return nil, err
	}
	if cfg.JWTRefreshTTL, err = parseDurationEnv("JWT_REFRESH_TTL", 7*24*time.Hour); err != nil {
		return nil, err
	}

	cfg.AllowOrigins = splitList(getEnv("ALLOW_ORIGINS", ""))

	if cfg.RateLimitPublic, err = parseRateLimit("RATE_LIMIT_PUBLIC", RateLimitConfig{RequestsPerSecond: 5, Burst: 10}); err != nil {
		return nil, err
	}
	if cfg.RateLimitAuth, err = parseRateLimit("RATE_LIMIT_AUTH", RateLimitConfig{RequestsPerSecond: 20, Burst: 60}); err != nil {
		return nil, err
	}

	cfg.Storage = StorageConfig{
		Provider:    strings.ToLower(strings.TrimSpace(getEnv("STORAGE_PROVIDER", "noop"))),
		S3Endpoint:  strings.TrimSpace(getEnv("STORAGE_S3_ENDPOINT", "")),
		S3Region:    strings.TrimSpace(getEnv("STORAGE_S3_REGION", "auto")),
		S3Bucket:    strings.TrimSpace(getEnv("STORAGE_S3_BUCKET", "")),
		S3AccessKey: strings.TrimSpace(getEnv("STORAGE_S3_ACCESS_KEY", "")),
		S3SecretKey: strings.TrimSpace(getEnv("STORAGE_S3_SECRET_KEY", "")),
		S3PublicURL: strings.TrimRight(strings.TrimSpace(getEnv("STORAGE_S3_PUBLIC_URL", "")), "/"),
	}

	cfg.Stats.Enabled = parseBoolEnv("STATS_ENABLED", true)
	if cfg.Stats.Interval, err = parseDurationEnv("STATS_INTERVAL", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.Stats.AlertThreshold, err = parseIntEnv("STATS_ALERT_THRESHOLD", 0); err != nil || cfg.Stats.AlertThreshold < 0 {
		return nil, errors.New("STATS_ALERT_THRESHOLD inválido")
	}
	cfg.Stats.AlertWebhook = strings.TrimSpace(getEnv("STATS_ALERT_WEBHOOK", ""))

	if cfg.Coeficientes.CacheSize, err = parseIntEnv("COEF_CACHE_SIZE", 1024); err != nil {
		return nil, errors.New("COEF_CACHE_SIZE inválido")
	}
	if cfg.Coeficientes.CacheTTL, err = parseDurationEnv("COEF_CACHE_TTL", 10*time.Minute); err != nil {
		return nil, err
	}

	maxBytes, err := parseIntEnv("ANEXO_MAX_BYTES", 10<<20)
	if err != nil || maxBytes <= 0 {
		return nil, errors.New("ANEXO_MAX_BYTES inválido")
	}
	cfg.AnexoMaxBytes = int64(maxBytes)

	importBytes, err := parseIntEnv("IMPORT_MAX_BYTES", 10<<20)
	if err != nil || importBytes <= 0 {
		return nil, errors.New("IMPORT_MAX_BYTES inválido")
	}
	cfg.ImportMaxBytes = int64(importBytes)

	cfg.MetricsEnabled = parseBoolEnv("METRICS_ENABLED", true)

	return cfg, nil
}

func getEnv(key, def string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return def
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parseIntEnv(key string, def int) (int, error) {
	val := strings.TrimSpace(getEnv(key, ""))
	if val == "" {
		return def, nil
	}
	return strconv.Atoi(val)
}

func parseBoolEnv(key string, def bool) bool {
	val := strings.TrimSpace(getEnv(key, ""))
	if val == "" {
		return def
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return def
	}
	return parsed
}

func parseDurationEnv(key string, def time.Duration) (time.Duration, error) {
	val := getEnv(key, "")
	if val == "" {
		return def, nil
	}
	dur, err := time.ParseDuration(val)
	if err != nil {
		return 0, errors.New(key + " inválido")
	}
	return dur, nil
}

// parseRateLimit lê valores no formato "req/s:burst" (ex.: 5:10).
func parseRateLimit(key string, def RateLimitConfig) (RateLimitConfig, error) {
	val := strings.TrimSpace(getEnv(key, ""))
	if val == "" {
		return def, nil
	}
	parts := strings.SplitN(val, ":", 2)
	rps, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil || rps <= 0 {
		return def, errors.New(key + " inválido")
	}
	out := RateLimitConfig{RequestsPerSecond: rps, Burst: def.Burst}
	if len(parts) == 2 {
		burst, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil || burst <= 0 {
			return def, errors.New(key + " inválido")
		}
		out.Burst = burst
	}
	return out, nil
}
