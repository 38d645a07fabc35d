package api

import "time"

type ServerConfig struct {
	Auction   AuctionConfig
	RateLimit RateLimitConfig
	DB        DBConfig
	Redis     RedisConfig
}

type AuctionConfig struct {
	// MinIncrement is the smallest amount a bid must add on top of the
	// current price, in currency units.
	MinIncrement string
	// EndingSoonThreshold is how close to close time an accepted bid
	// triggers the ending-soon event.
	EndingSoonThreshold time.Duration
}

type RateLimitConfig struct {
	Window time.Duration
	Limit  int
}

// DBConfig points at the archive database. Leave Host empty to run
// without durable archival (tests, single-shot demos).
type DBConfig struct {
	User     string
	Password string
	Host     string
	Port     int
	Database string
	Schema   string
}

// RedisConfig points at the event relay. Leave Addr empty to fan out
// locally only.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	StreamKeys RedisStreamKeys
}

type RedisStreamKeys struct {
	Events string
}
