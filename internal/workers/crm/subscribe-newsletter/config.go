package subscribenewsletter

import "time"

type Config struct {
	Timeout time.Duration
	// Source tags contacts added by the workflow.
	Source string
}
