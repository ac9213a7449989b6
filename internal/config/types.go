package config

import (
	"fmt"
	"strings"
)

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Campaign CampaignConfig `json:"campaign"`
	Health   HealthConfig   `json:"health,omitempty"`
	Digest   DigestConfig   `json:"digest,omitempty"`
	Payment  PaymentConfig  `json:"payment"`
	Links    LinksConfig    `json:"links,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`

	// OperatorID is the single user id allowed to run /broadcast and the
	// target for /confirm forwards and digests.
	OperatorID int64 `json:"operator_id"`

	// PollTimeout is a Go duration string (e.g. "10s").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string     `json:"level,omitempty"`
	Console bool       `json:"console"`
	File    FileConfig `json:"file,omitempty"`
}

type FileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// StorageConfig controls the sqlite persistence layer.
type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}

// CampaignConfig controls broadcast pacing.
//
// SendInterval is the minimum gap between consecutive deliveries, applied
// unconditionally (also after failures). Telegram's bot-wide throughput
// ceiling is ~30 msg/s; the default 300ms stays well under it.
type CampaignConfig struct {
	SendInterval string `json:"send_interval,omitempty"`
}

type HealthConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default ":8080"
}

// DigestConfig controls the scheduled operator digest.
// Schedule is a standard 5-field cron spec in the given timezone.
type DigestConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule,omitempty"` // default "0 9 * * *"
	Timezone string `json:"timezone,omitempty"`
}

// PaymentConfig holds the receive addresses shown on invoices.
type PaymentConfig struct {
	ETHAddress string `json:"eth_address,omitempty"`
	SOLAddress string `json:"sol_address,omitempty"`
}

type LinksConfig struct {
	Docs       string `json:"docs,omitempty"`
	Twitter    string `json:"twitter,omitempty"`
	AddToGroup string `json:"add_to_group,omitempty"`
}

// Validate checks the invariants required before the bot may start.
// Credentials and identity are fatal when absent; everything else has
// a usable default.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token is required")
	}
	if c.Telegram.OperatorID == 0 {
		return fmt.Errorf("telegram.operator_id is required")
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		return fmt.Errorf("storage.path is required")
	}
	if _, err := ParseDurationField("telegram.poll_timeout", c.Telegram.PollTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("campaign.send_interval", c.Campaign.SendInterval); err != nil {
		return err
	}
	return nil
}
