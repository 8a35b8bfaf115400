package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Server   ServerConfig   `mapstructure:"server"`
	Channel  ChannelConfig  `mapstructure:"channel"`
	Database DatabaseConfig `mapstructure:"database"`
	Session  SessionConfig  `mapstructure:"session"`
	OpenAI   OpenAIConfig   `mapstructure:"openai"`
	Mailer   MailerConfig   `mapstructure:"mailer"`
	Maps     MapsConfig     `mapstructure:"maps"`
}

type AppConfig struct {
	// AutoRegister makes first contact create a registered placeholder
	// profile instead of starting the manual registration dialog.
	AutoRegister      bool     `mapstructure:"auto_register"`
	AdminPhones       []string `mapstructure:"admin_phones"`
	KoordinatorPhones []string `mapstructure:"koordinator_phones"`
	// ContextTurns is how many recent turns are handed to the AI.
	ContextTurns int    `mapstructure:"context_turns"`
	VillageName  string `mapstructure:"village_name"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type ChannelConfig struct {
	// Kind selects the messaging channel: "whatsapp" or "telegram".
	Kind     string         `mapstructure:"kind"`
	WhatsApp WhatsAppConfig `mapstructure:"whatsapp"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

type WhatsAppConfig struct {
	AccountSID string `mapstructure:"account_sid"`
	AuthToken  string `mapstructure:"auth_token"`
	Number     string `mapstructure:"number"`
}

type TelegramConfig struct {
	Token string `mapstructure:"token"`
}

type DatabaseConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	User        string `mapstructure:"user"`
	Password    string `mapstructure:"password"`
	DBName      string `mapstructure:"dbname"`
	SSLMode     string `mapstructure:"sslmode"`
	UseInMemory bool   `mapstructure:"use_in_memory"`
}

type SessionConfig struct {
	// RedisAddr enables the Redis session store when set; empty means
	// the in-process store.
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
}

type OpenAIConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	BaseURL     string  `mapstructure:"base_url"`
	TextModel   string  `mapstructure:"text_model"`
	VisionModel string  `mapstructure:"vision_model"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
}

type MailerConfig struct {
	APIKey    string `mapstructure:"api_key"`
	FromName  string `mapstructure:"from_name"`
	FromEmail string `mapstructure:"from_email"`
	// ReportEmail receives the laporan statistics report.
	ReportEmail string `mapstructure:"report_email"`
}

type MapsConfig struct {
	APIKey string `mapstructure:"api_key"`
}

func parseDatabaseURL(dbURL string) (DatabaseConfig, error) {
	u, err := url.Parse(dbURL)
	if err != nil {
		return DatabaseConfig{}, err
	}

	password, _ := u.User.Password()
	port := 5432 // default PostgreSQL port
	if u.Port() != "" {
		fmt.Sscanf(u.Port(), "%d", &port)
	}

	dbName := strings.TrimPrefix(u.Path, "/")

	return DatabaseConfig{
		Host:     u.Hostname(),
		Port:     port,
		User:     u.User.Username(),
		Password: password,
		DBName:   dbName,
		SSLMode:  "disable",
	}, nil
}

func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	// Set default values
	v.SetDefault("app.auto_register", false)
	v.SetDefault("app.context_turns", 5)
	v.SetDefault("app.village_name", "Desa Cukangkawung")
	v.SetDefault("server.port", 8080)
	v.SetDefault("channel.kind", "whatsapp")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.use_in_memory", false)
	v.SetDefault("openai.text_model", "gpt-4o-mini")
	v.SetDefault("openai.vision_model", "gpt-4o")
	v.SetDefault("openai.max_tokens", 400)
	v.SetDefault("openai.temperature", 0.7)

	// Enable environment variable support
	v.AutomaticEnv()

	// Read the config file
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	// Check for DATABASE_URL environment variable
	if dbURL := v.GetString("DATABASE_URL"); dbURL != "" {
		dbConfig, err := parseDatabaseURL(dbURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DATABASE_URL: %v", err)
		}
		config.Database = dbConfig
	}

	// Get other environment variables
	if sid := v.GetString("TWILIO_ACCOUNT_SID"); sid != "" {
		config.Channel.WhatsApp.AccountSID = sid
	}
	if token := v.GetString("TWILIO_AUTH_TOKEN"); token != "" {
		config.Channel.WhatsApp.AuthToken = token
	}
	if number := v.GetString("TWILIO_WHATSAPP_NUMBER"); number != "" {
		config.Channel.WhatsApp.Number = number
	}
	if token := v.GetString("TELEGRAM_TOKEN"); token != "" {
		config.Channel.Telegram.Token = token
	}
	if apiKey := v.GetString("OPENAI_API_KEY"); apiKey != "" {
		config.OpenAI.APIKey = apiKey
	}
	if apiKey := v.GetString("MAILERSEND_API_KEY"); apiKey != "" {
		config.Mailer.APIKey = apiKey
	}
	if email := v.GetString("REPORT_EMAIL"); email != "" {
		config.Mailer.ReportEmail = email
	}
	if apiKey := v.GetString("MAPS_API_KEY"); apiKey != "" {
		config.Maps.APIKey = apiKey
	}
	if addr := v.GetString("REDIS_ADDR"); addr != "" {
		config.Session.RedisAddr = addr
	}
	if phones := v.GetString("ADMIN_PHONE_NUMBERS"); phones != "" {
		config.App.AdminPhones = splitPhones(phones)
	}
	if phones := v.GetString("KOORDINATOR_PHONE_NUMBERS"); phones != "" {
		config.App.KoordinatorPhones = splitPhones(phones)
	}

	return &config, nil
}

func splitPhones(s string) []string {
	parts := strings.Split(s, ",")
	phones := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			phones = append(phones, p)
		}
	}
	return phones
}
