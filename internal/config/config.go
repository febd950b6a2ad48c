// Package config loads service settings from environment variables, applying
// the defaults observed against the production eTraffic deployment.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all service settings.
type Config struct {
	// Upstream endpoint.
	Endpoint        string
	Method          string
	PayloadTemplate string
	AllowedHosts    []string
	XORKey          string
	Timezone        string
	RequestTimeout  time.Duration

	// Polling worker.
	PollingEnabled bool
	PollInterval   time.Duration
	BackoffBase    time.Duration
	BackoffMax     time.Duration
	StaleAfter     time.Duration
	Retention      time.Duration

	// Candidate signature.
	TargetSource string
	TargetType   string
	TargetCause  string

	// Elasticsearch persistence (disabled when URL is empty).
	ElasticURL            string
	ElasticIndex          string
	ElasticUsername       string
	ElasticPassword       string
	ElasticAPIKey         string
	ElasticBootstrapLimit int

	// Kafka change feed (disabled when brokers are empty).
	KafkaBrokers []string
	KafkaTopic   string

	// Serving boundary.
	HTTPAddr       string
	APIKey         string
	APIKeyHeader   string
	APIKeyRequired bool
	IncludeRaw     bool

	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
}

// Load reads configuration from environment variables, applying defaults
// where unset, and validates it. Validation failures are startup-fatal.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("ETRAFFIC_ENDPOINT", "https://etraffic.dgt.es/etrafficWEB/api/cache/getFilteredData")
	v.SetDefault("ETRAFFIC_METHOD", "POST")
	v.SetDefault("ETRAFFIC_PAYLOAD", defaultPayloadTemplate)
	v.SetDefault("ETRAFFIC_ALLOWED_HOSTS", "etraffic.dgt.es")
	v.SetDefault("ETRAFFIC_XOR_KEY", "K")
	v.SetDefault("ETRAFFIC_TIMEZONE", "Europe/Madrid")
	v.SetDefault("REQUEST_TIMEOUT_SECONDS", 10)
	v.SetDefault("POLLING_ENABLED", true)
	v.SetDefault("POLL_INTERVAL_SECONDS", 45)
	v.SetDefault("POLLING_BACKOFF_BASE_SECONDS", 5)
	v.SetDefault("POLLING_BACKOFF_MAX_SECONDS", 60)
	v.SetDefault("STALE_AFTER_SECONDS", 180)
	v.SetDefault("LOST_GC_SECONDS", 86400)
	v.SetDefault("TARGET_SOURCE", "DGT3.0")
	v.SetDefault("TARGET_TYPE", "Advertencia")
	v.SetDefault("TARGET_CAUSE", "Vehículo detenido")
	v.SetDefault("ELASTICSEARCH_URL", "")
	v.SetDefault("ELASTICSEARCH_INDEX", "v16-events")
	v.SetDefault("ELASTICSEARCH_USERNAME", "")
	v.SetDefault("ELASTICSEARCH_PASSWORD", "")
	v.SetDefault("ELASTICSEARCH_API_KEY", "")
	v.SetDefault("ELASTICSEARCH_BOOTSTRAP_LIMIT", 5000)
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("KAFKA_TOPIC", "v16-event-changes")
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("API_KEY", "")
	v.SetDefault("API_KEY_HEADER", "X-API-Key")
	v.SetDefault("API_KEY_REQUIRED", true)
	v.SetDefault("API_INCLUDE_RAW", false)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("SHUTDOWN_TIMEOUT_SECONDS", 10)

	cfg := &Config{
		Endpoint:        v.GetString("ETRAFFIC_ENDPOINT"),
		Method:          strings.ToUpper(v.GetString("ETRAFFIC_METHOD")),
		PayloadTemplate: v.GetString("ETRAFFIC_PAYLOAD"),
		AllowedHosts:    splitList(v.GetString("ETRAFFIC_ALLOWED_HOSTS")),
		XORKey:          v.GetString("ETRAFFIC_XOR_KEY"),
		Timezone:        v.GetString("ETRAFFIC_TIMEZONE"),
		RequestTimeout:  seconds(v.GetInt("REQUEST_TIMEOUT_SECONDS")),

		PollingEnabled: v.GetBool("POLLING_ENABLED"),
		PollInterval:   seconds(v.GetInt("POLL_INTERVAL_SECONDS")),
		BackoffBase:    seconds(v.GetInt("POLLING_BACKOFF_BASE_SECONDS")),
		BackoffMax:     seconds(v.GetInt("POLLING_BACKOFF_MAX_SECONDS")),
		StaleAfter:     seconds(v.GetInt("STALE_AFTER_SECONDS")),
		Retention:      seconds(v.GetInt("LOST_GC_SECONDS")),

		TargetSource: v.GetString("TARGET_SOURCE"),
		TargetType:   v.GetString("TARGET_TYPE"),
		TargetCause:  v.GetString("TARGET_CAUSE"),

		ElasticURL:            v.GetString("ELASTICSEARCH_URL"),
		ElasticIndex:          v.GetString("ELASTICSEARCH_INDEX"),
		ElasticUsername:       v.GetString("ELASTICSEARCH_USERNAME"),
		ElasticPassword:       v.GetString("ELASTICSEARCH_PASSWORD"),
		ElasticAPIKey:         v.GetString("ELASTICSEARCH_API_KEY"),
		ElasticBootstrapLimit: v.GetInt("ELASTICSEARCH_BOOTSTRAP_LIMIT"),

		KafkaBrokers: splitList(v.GetString("KAFKA_BROKERS")),
		KafkaTopic:   v.GetString("KAFKA_TOPIC"),

		HTTPAddr:       v.GetString("HTTP_ADDR"),
		APIKey:         v.GetString("API_KEY"),
		APIKeyHeader:   v.GetString("API_KEY_HEADER"),
		APIKeyRequired: v.GetBool("API_KEY_REQUIRED"),
		IncludeRaw:     v.GetBool("API_INCLUDE_RAW"),

		LogLevel:        v.GetString("LOG_LEVEL"),
		LogFormat:       v.GetString("LOG_FORMAT"),
		ShutdownTimeout: seconds(v.GetInt("SHUTDOWN_TIMEOUT_SECONDS")),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	parsed, err := url.Parse(c.Endpoint)
	if err != nil {
		return fmt.Errorf("invalid ETRAFFIC_ENDPOINT: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return errors.New("ETRAFFIC_ENDPOINT must be http(s)")
	}
	if !hostAllowed(parsed.Hostname(), c.AllowedHosts) {
		return fmt.Errorf("ETRAFFIC_ENDPOINT host %q not in ETRAFFIC_ALLOWED_HOSTS", parsed.Hostname())
	}
	if c.Method != "GET" && c.Method != "POST" {
		return fmt.Errorf("ETRAFFIC_METHOD must be GET or POST, got %q", c.Method)
	}
	for name, d := range map[string]time.Duration{
		"REQUEST_TIMEOUT_SECONDS":      c.RequestTimeout,
		"POLL_INTERVAL_SECONDS":        c.PollInterval,
		"POLLING_BACKOFF_BASE_SECONDS": c.BackoffBase,
		"POLLING_BACKOFF_MAX_SECONDS":  c.BackoffMax,
		"STALE_AFTER_SECONDS":          c.StaleAfter,
		"LOST_GC_SECONDS":              c.Retention,
		"SHUTDOWN_TIMEOUT_SECONDS":     c.ShutdownTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if c.APIKeyRequired && c.APIKey == "" {
		return errors.New("API_KEY is required to start the service (set API_KEY_REQUIRED=false to disable)")
	}
	return nil
}

// PayloadBody returns the request body template as a JSON object, falling
// back to an empty object when the template is not valid JSON.
func (c *Config) PayloadBody() []byte {
	var parsed any
	if err := json.Unmarshal([]byte(c.PayloadTemplate), &parsed); err != nil {
		return []byte("{}")
	}
	body, err := json.Marshal(parsed)
	if err != nil {
		return []byte("{}")
	}
	return body
}

// ElasticEnabled reports whether the durable backend is configured.
func (c *Config) ElasticEnabled() bool { return c.ElasticURL != "" }

// KafkaEnabled reports whether the change feed is configured.
func (c *Config) KafkaEnabled() bool { return len(c.KafkaBrokers) > 0 }

func hostAllowed(host string, allowed []string) bool {
	for _, h := range allowed {
		if strings.EqualFold(host, h) {
			return true
		}
	}
	return false
}

func splitList(value string) []string {
	items := make([]string, 0)
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// defaultPayloadTemplate is the filter body observed in the eTraffic SPA's
// getFilteredData call.
const defaultPayloadTemplate = `{"filtrosVia":["Carreteras cortadas","Tráfico lento","Circulación restringida",` +
	`"Desvíos y embolsamientos","Otras vialidades"],` +
	`"filtrosCausa":["Obras","Accidente","Meteorológicos","Restricciones de circulación","Otras incidencias","Otras afecciones"]}`
