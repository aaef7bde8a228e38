package config

import (
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/omondi/mpesa-gateway/pkg/logger"
	"github.com/pkg/errors"
)

var config *Config

// Config holds every env-derived value the service reads. Only this struct
// may be consulted for configuration; no direct env access elsewhere.
type Config struct {
	AppEnv  string `env:"APP_ENV,default=dev"`
	AppName string `env:"APP_NAME,default=mpesa_gateway"`

	HttpListenAddr    string `env:"HTTP_LISTEN_ADDR,default=:8080"`
	MetricsListenAddr string `env:"METRICS_LISTEN_ADDR"`

	DarajaBaseURL        string `env:"DARAJA_BASE_URL,default=https://sandbox.safaricom.co.ke"`
	DarajaConsumerKey    string `env:"DARAJA_CONSUMER_KEY"`
	DarajaConsumerSecret string `env:"DARAJA_CONSUMER_SECRET"`
	DarajaShortcode      string `env:"DARAJA_SHORTCODE"`
	DarajaPasskey        string `env:"DARAJA_PASSKEY"`
	DarajaCallbackURL    string `env:"DARAJA_CALLBACK_URL"`

	CountryPrefix string `env:"COUNTRY_PREFIX,default=254"`

	TokenTimeout time.Duration `env:"DARAJA_TOKEN_TIMEOUT"`
	PushTimeout  time.Duration `env:"DARAJA_PUSH_TIMEOUT"`

	// Zero keeps settled transactions forever.
	TransactionRetention time.Duration `env:"TRANSACTION_RETENTION_TTL"`
}

func Load(path string) error {
	logger.Info("loading configs..", "path", path)
	c := &Config{}
	var err error
	if path != "" {
		logger.Info("trying to publish env from file", "path", path)
		err = godotenv.Load(path)
		if err != nil {
			return errors.New("failed to load configuration file " + path + " error: " + err.Error())
		}
	}

	_, err = env.UnmarshalFromEnviron(c)
	if err != nil {
		return errors.New("failed to map env variables to Configuration object " + " error: " + err.Error())
	}

	config = c
	return nil
}

func Get() *Config {
	if config == nil {
		logger.Panic("Config is not initialized")
	}
	return config
}

// Diagnostics reports presence of each gateway credential. A missing value
// must be observable without crashing the process, and must never leak the
// value itself.
func (c *Config) Diagnostics() map[string]bool {
	return map[string]bool{
		"consumerKey":    c.DarajaConsumerKey != "",
		"consumerSecret": c.DarajaConsumerSecret != "",
		"shortcode":      c.DarajaShortcode != "",
		"passkey":        c.DarajaPasskey != "",
		"callbackUrl":    c.DarajaCallbackURL != "",
	}
}
