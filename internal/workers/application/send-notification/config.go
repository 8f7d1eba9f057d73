package sendnotification

import "time"

type Config struct {
	Timeout  time.Duration
	LoginURL string
}
