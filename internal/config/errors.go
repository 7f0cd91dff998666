package config

import "errors"

// ErrInvalidValue indicates an environment variable that is set but cannot
// be parsed or is out of range.
var ErrInvalidValue = errors.New("config: invalid value")

// ErrQueueWithoutRedis indicates INTENT_QUEUE is set while REDIS_URL is not.
var ErrQueueWithoutRedis = errors.New("config: INTENT_QUEUE requires REDIS_URL")
