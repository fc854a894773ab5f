// ABOUTME: Centralized configuration defaults for feedsync
// ABOUTME: Contains magic numbers and hardcoded values for display, refresh and storage

package config

import "time"

// File settings
const (
	ConfigFilename  = "config.json"
	SecretsFilename = "credentials.json"
	FilePerms       = 0644
)

// Logging settings
const (
	DefaultLogFormat = "text"
	DefaultLogLevel  = "info"
)

// Refresh settings
const (
	DefaultRefreshInterval = 30 * time.Minute
	MinRefreshInterval     = time.Minute
	DefaultHTTPTimeout     = 30 * time.Second
)

// Storage settings
const (
	DefaultRetentionDays   = 90
	DefaultStatusCacheSize = 10000
)

// Display settings
const (
	DefaultListLimit = 20
	DisplayIDLength  = 12
	SeparatorWidth   = 60
	DateFormatShort  = "02 Jan 06 15:04 MST"
	DateFormatLong   = "Mon, 02 Jan 2006 15:04 MST"
)

// Feedly OAuth settings
const (
	FeedlyRedirectURL = "http://localhost:8080/"
)
