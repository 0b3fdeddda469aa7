package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Mail     MailConfig     `mapstructure:"mail"`
	OpenAI   OpenAIConfig   `mapstructure:"openai"`
	Apify    ApifyConfig    `mapstructure:"apify"`
	Campaign CampaignConfig `mapstructure:"campaign"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
}

// MailConfig holds outbound (Gmail API) and inbound (IMAP) mail settings.
type MailConfig struct {
	SenderName   string `mapstructure:"sender_name"`
	UserEmail    string `mapstructure:"user_email"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RefreshToken string `mapstructure:"refresh_token"`

	IMAPHost     string `mapstructure:"imap_host"`
	IMAPPort     int    `mapstructure:"imap_port"`
	IMAPUser     string `mapstructure:"imap_user"`
	IMAPPassword string `mapstructure:"imap_password"`

	OutreachTemplatePath string `mapstructure:"outreach_template_path"`
	ReplyTemplatePath    string `mapstructure:"reply_template_path"`
}

// OpenAIConfig holds content provider configuration
type OpenAIConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	Model   string        `mapstructure:"model"`
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// ApifyConfig holds lead scraping configuration
type ApifyConfig struct {
	APIKey     string           `mapstructure:"api_key"`
	BaseURL    string           `mapstructure:"base_url"`
	Timeout    time.Duration    `mapstructure:"timeout"`
	MaxResults int              `mapstructure:"max_results"`
	Searches   []CategorySearch `mapstructure:"searches"`
}

// CategorySearch is one lead-generation query.
type CategorySearch struct {
	Location string `mapstructure:"location"`
	Category string `mapstructure:"category"`
}

// CampaignConfig holds the campaign policy: trigger schedule, response
// window, and follow-up budget. Cron specs are interpreted in Timezone.
type CampaignConfig struct {
	Timezone         string        `mapstructure:"timezone"`
	GenerateSpec     string        `mapstructure:"generate_spec"`
	OutreachSpec     string        `mapstructure:"outreach_spec"`
	FollowupSpec     string        `mapstructure:"followup_spec"`
	PruneSpec        string        `mapstructure:"prune_spec"`
	ResponseWindow   time.Duration `mapstructure:"response_window"`
	MaxFollowups     int           `mapstructure:"max_followups"`
	DedupeRetention  time.Duration `mapstructure:"dedupe_retention"`
	OutreachBatchMax int           `mapstructure:"outreach_batch_max"`
}

// PipelineConfig holds reply ingestion settings.
type PipelineConfig struct {
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	QueueCapacity int           `mapstructure:"queue_capacity"`
	Workers       int           `mapstructure:"workers"`
	MaxRetries    int           `mapstructure:"max_retries"`
	RetryBackoff  time.Duration `mapstructure:"retry_backoff"`
	DrainTimeout  time.Duration `mapstructure:"drain_timeout"`
}

// LoadConfig loads configuration from environment variables and config file
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Environment variables override config file
	viper.AutomaticEnv()
	bindEnvVars()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 3306)

	viper.SetDefault("mail.imap_host", "imap.gmail.com")
	viper.SetDefault("mail.imap_port", 993)
	viper.SetDefault("mail.outreach_template_path", "templates/outreach.html")
	viper.SetDefault("mail.reply_template_path", "templates/reply.html")

	viper.SetDefault("openai.model", "gpt-4o-mini")
	viper.SetDefault("openai.base_url", "https://api.openai.com/v1")
	viper.SetDefault("openai.timeout", "60s")

	viper.SetDefault("apify.base_url", "https://api.apify.com")
	viper.SetDefault("apify.timeout", "10m")
	viper.SetDefault("apify.max_results", 75)

	viper.SetDefault("campaign.timezone", "Asia/Dubai")
	viper.SetDefault("campaign.generate_spec", "0 0 * * SUN,WED")
	viper.SetDefault("campaign.outreach_spec", "0 8 * * TUE,THU")
	viper.SetDefault("campaign.followup_spec", "0 8 * * MON")
	viper.SetDefault("campaign.prune_spec", "0 3 * * *")
	viper.SetDefault("campaign.response_window", "168h")
	viper.SetDefault("campaign.max_followups", 3)
	viper.SetDefault("campaign.dedupe_retention", "720h")
	viper.SetDefault("campaign.outreach_batch_max", 200)

	viper.SetDefault("pipeline.poll_interval", "30s")
	viper.SetDefault("pipeline.queue_capacity", 64)
	viper.SetDefault("pipeline.workers", 4)
	viper.SetDefault("pipeline.max_retries", 3)
	viper.SetDefault("pipeline.retry_backoff", "2s")
	viper.SetDefault("pipeline.drain_timeout", "30s")
}

// bindEnvVars binds environment variables to configuration keys
func bindEnvVars() {
	// Server
	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("server.read_timeout", "SERVER_READ_TIMEOUT")
	viper.BindEnv("server.write_timeout", "SERVER_WRITE_TIMEOUT")

	// Database
	viper.BindEnv("database.host", "DB_HOST")
	viper.BindEnv("database.port", "DB_PORT")
	viper.BindEnv("database.user", "DB_USER")
	viper.BindEnv("database.password", "DB_PASSWORD")
	viper.BindEnv("database.dbname", "DB_NAME")

	// Mail
	viper.BindEnv("mail.sender_name", "SENDER_NAME")
	viper.BindEnv("mail.user_email", "MAIL_USER_EMAIL")
	viper.BindEnv("mail.client_id", "GMAIL_CLIENT_ID")
	viper.BindEnv("mail.client_secret", "GMAIL_CLIENT_SECRET")
	viper.BindEnv("mail.refresh_token", "GMAIL_REFRESH_TOKEN")
	viper.BindEnv("mail.imap_host", "IMAP_HOST")
	viper.BindEnv("mail.imap_port", "IMAP_PORT")
	viper.BindEnv("mail.imap_user", "IMAP_USER")
	viper.BindEnv("mail.imap_password", "IMAP_PASSWORD")

	// Content provider
	viper.BindEnv("openai.api_key", "OPENAI_API_KEY")
	viper.BindEnv("openai.model", "OPENAI_MODEL")
	viper.BindEnv("openai.base_url", "OPENAI_BASE_URL")

	// Scraper
	viper.BindEnv("apify.api_key", "APIFY_API_KEY")

	// Campaign policy
	viper.BindEnv("campaign.timezone", "TIMEZONE")
	viper.BindEnv("campaign.response_window", "CAMPAIGN_RESPONSE_WINDOW")
	viper.BindEnv("campaign.max_followups", "CAMPAIGN_MAX_FOLLOWUPS")

	// Pipeline
	viper.BindEnv("pipeline.poll_interval", "PIPELINE_POLL_INTERVAL")
	viper.BindEnv("pipeline.queue_capacity", "PIPELINE_QUEUE_CAPACITY")
	viper.BindEnv("pipeline.workers", "PIPELINE_WORKERS")
}

// GetDSN returns the database connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.User, c.Password, c.Host, c.Port, c.DBName)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	if c.Database.Host == "" || c.Database.User == "" || c.Database.DBName == "" {
		return fmt.Errorf("database host, user, and dbname are required")
	}

	if c.Mail.UserEmail == "" || c.Mail.SenderName == "" {
		return fmt.Errorf("mail sender name and user email are required")
	}
	if c.Mail.ClientID == "" || c.Mail.ClientSecret == "" || c.Mail.RefreshToken == "" {
		return fmt.Errorf("Gmail OAuth2 credentials are required")
	}
	if c.Mail.IMAPUser == "" || c.Mail.IMAPPassword == "" {
		return fmt.Errorf("IMAP credentials are required")
	}

	if c.OpenAI.APIKey == "" {
		return fmt.Errorf("OpenAI API key is required")
	}

	if c.Apify.APIKey == "" {
		return fmt.Errorf("Apify API key is required")
	}

	if c.Campaign.MaxFollowups <= 0 {
		return fmt.Errorf("campaign max_followups must be greater than 0")
	}
	if c.Campaign.ResponseWindow <= 0 {
		return fmt.Errorf("campaign response_window must be greater than 0")
	}
	if _, err := time.LoadLocation(c.Campaign.Timezone); err != nil {
		return fmt.Errorf("invalid campaign timezone %q: %w", c.Campaign.Timezone, err)
	}

	if c.Pipeline.QueueCapacity <= 0 {
		return fmt.Errorf("pipeline queue_capacity must be greater than 0")
	}
	if c.Pipeline.Workers <= 0 {
		return fmt.Errorf("pipeline workers must be greater than 0")
	}

	return nil
}

// Location resolves the campaign timezone. Validate must have passed.
func (c *CampaignConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
