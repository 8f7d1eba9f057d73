package syncentitlement

import "time"

type Config struct {
	Timeout time.Duration
}
