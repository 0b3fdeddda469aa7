package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8080",
		},
		Database: DatabaseConfig{
			Host:   "localhost",
			User:   "outreach",
			DBName: "outreach",
		},
		Mail: MailConfig{
			SenderName:   "Peekr Team",
			UserEmail:    "outreach@peekr.test",
			ClientID:     "client",
			ClientSecret: "secret",
			RefreshToken: "refresh",
			IMAPUser:     "outreach@peekr.test",
			IMAPPassword: "app-password",
		},
		OpenAI: OpenAIConfig{APIKey: "sk-test"},
		Apify:  ApifyConfig{APIKey: "apify-test"},
		Campaign: CampaignConfig{
			Timezone:       "Asia/Dubai",
			MaxFollowups:   3,
			ResponseWindow: 168 * time.Hour,
		},
		Pipeline: PipelineConfig{
			QueueCapacity: 64,
			Workers:       4,
		},
	}
}

func TestConfigValidation(t *testing.T) {
	config := validConfig()
	assert.NoError(t, config.Validate())

	missing := validConfig()
	missing.Server.Port = ""
	assert.Error(t, missing.Validate())

	noMail := validConfig()
	noMail.Mail.RefreshToken = ""
	assert.Error(t, noMail.Validate())

	noIMAP := validConfig()
	noIMAP.Mail.IMAPPassword = ""
	assert.Error(t, noIMAP.Validate())

	badZone := validConfig()
	badZone.Campaign.Timezone = "Mars/Olympus"
	assert.Error(t, badZone.Validate())

	noBudget := validConfig()
	noBudget.Campaign.MaxFollowups = 0
	assert.Error(t, noBudget.Validate())

	noQueue := validConfig()
	noQueue.Pipeline.QueueCapacity = 0
	assert.Error(t, noQueue.Validate())
}

func TestDatabaseDSN(t *testing.T) {
	config := DatabaseConfig{
		Host:     "localhost",
		Port:     3306,
		User:     "testuser",
		Password: "testpass",
		DBName:   "testdb",
	}

	dsn := config.GetDSN()
	expected := "testuser:testpass@tcp(localhost:3306)/testdb?charset=utf8mb4&parseTime=True&loc=Local"
	assert.Equal(t, expected, dsn)
}

func TestCampaignLocation(t *testing.T) {
	campaign := CampaignConfig{Timezone: "Asia/Dubai"}
	loc := campaign.Location()
	assert.Equal(t, "Asia/Dubai", loc.String())

	fallback := CampaignConfig{Timezone: "not-a-zone"}
	assert.Equal(t, time.UTC, fallback.Location())
}
