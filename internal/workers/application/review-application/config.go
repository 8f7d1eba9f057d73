package reviewapplication

import "time"

type Config struct {
	Timeout time.Duration
	// DefaultReviewer is recorded when the process does not name one.
	DefaultReviewer string
}

func LoadConfig() *Config {
	return &Config{
		Timeout:         30 * time.Second,
		DefaultReviewer: "workflow",
	}
}
