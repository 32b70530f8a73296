// Package config loads the controller's optional side configuration for
// monitoring and notification settings that have no place on the command
// line.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/reccapture/recc/internal/util"
)

// MonitorConfig contains live-status server configuration.
type MonitorConfig struct {
	Port int `json:"port,omitempty"`
}

// EmailConfig contains email notification configuration.
type EmailConfig struct {
	Host       string `json:"host,omitempty"`
	Port       int    `json:"port,omitempty"`
	FromName   string `json:"from_name,omitempty"`
	Username   string `json:"username,omitempty"`
	Password   string `json:"password,omitempty"`
	Recipients string `json:"recipients,omitempty"`
}

// NotificationsConfig contains all notification configuration.
type NotificationsConfig struct {
	Email EmailConfig `json:"email,omitempty"`
}

// Config holds the side configuration.
type Config struct {
	Monitor       MonitorConfig       `json:"monitor,omitempty"`
	Notifications NotificationsConfig `json:"notifications,omitempty"`
}

// DefaultPath returns recc.json next to the executable.
func DefaultPath() string {
	exe, err := os.Executable()
	if err != nil {
		return "recc.json"
	}
	return filepath.Join(filepath.Dir(exe), "recc.json")
}

// Load reads the config at path. A missing file yields an empty config.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, util.WrapError("read config", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, util.WrapError("parse config", err)
	}
	return cfg, nil
}

// HasEmail reports whether mail settings are complete enough to send.
func (c *Config) HasEmail() bool {
	e := c.Notifications.Email
	return util.IsConfigured(e.Host, e.Username, e.Recipients)
}
