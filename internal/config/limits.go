package config

import "time"

const (
	// MaxNameLength is the maximum length for folder and document names.
	// Limited to 255 to fit in PostgreSQL VARCHAR(255).
	MaxNameLength = 255

	// DefaultGatewayTimeout is applied to each persistence call.
	DefaultGatewayTimeout = 10 * time.Second

	// DefaultEventBuffer is the per-subscriber change event buffer.
	// Slow subscribers drop events rather than block the controller.
	DefaultEventBuffer = 64
)
