package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yegors/flightfusion/internal/adsb"
	"github.com/yegors/flightfusion/pkg/logger"
)

// DefaultTTL is the expiry applied to every position write
const DefaultTTL = 300 * time.Second

// Config holds the position cache connection settings
type Config struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// PositionCache stores the latest normalized position per callsign as a Redis hash
type PositionCache struct {
	client goredis.UniversalClient
	ttl    time.Duration
	logger *logger.Logger
}

// NewPositionCache connects to Redis and verifies the connection
func NewPositionCache(ctx context.Context, cfg Config, log *logger.Logger) (*PositionCache, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	return NewPositionCacheWithClient(client, cfg.TTL, log), nil
}

// NewPositionCacheWithClient wraps an existing client
func NewPositionCacheWithClient(client goredis.UniversalClient, ttl time.Duration, log *logger.Logger) *PositionCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &PositionCache{
		client: client,
		ttl:    ttl,
		logger: log.Named("redis"),
	}
}

// Close closes the underlying client
func (c *PositionCache) Close() error {
	return c.client.Close()
}

// PositionKey returns the cache key for a callsign
func PositionKey(callsign string) string {
	return "aircraft:" + callsign + ":position"
}

// StorePositions writes every position in one pipeline, resetting the expiry on each key.
// Positions without a callsign are skipped.
func (c *PositionCache) StorePositions(ctx context.Context, positions []adsb.Position) (int, error) {
	written := 0
	_, err := c.client.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
		for _, p := range positions {
			if p.Callsign == "" || p.Callsign == adsb.UnknownCallsign {
				continue
			}
			key := PositionKey(p.Callsign)
			pipe.HSet(ctx, key, encodePosition(p))
			pipe.Expire(ctx, key, c.ttl)
			written++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to store positions: %w", err)
	}

	c.logger.Debug("Stored positions", logger.Int("count", written), logger.Duration("ttl", c.ttl))
	return written, nil
}

// GetPosition returns the cached position for a callsign. A missing key is reported
// as (nil, nil): no live data is not an error.
func (c *PositionCache) GetPosition(ctx context.Context, callsign string) (*adsb.Position, error) {
	fields, err := c.client.HGetAll(ctx, PositionKey(callsign)).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read position for %s: %w", callsign, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	pos := decodePosition(fields)
	return &pos, nil
}

func encodePosition(p adsb.Position) map[string]any {
	return map[string]any{
		"callsign":       p.Callsign,
		"icao24":         p.ICAO24,
		"origin_country": p.OriginCountry,
		"longitude":      formatFloat(p.Longitude),
		"latitude":       formatFloat(p.Latitude),
		"altitude_ft":    formatFloat(p.AltitudeFt),
		"velocity_kts":   formatFloat(p.VelocityKts),
		"heading_deg":    formatFloat(p.HeadingDeg),
		"vertical_rate":  formatFloat(p.VerticalRate),
		"on_ground":      strconv.FormatBool(p.OnGround),
		"observed_at":    p.ObservedAt.UTC().Format(time.RFC3339),
	}
}

// decodePosition tolerates missing or malformed fields, leaving zero values
func decodePosition(fields map[string]string) adsb.Position {
	pos := adsb.Position{
		Callsign:      fields["callsign"],
		ICAO24:        fields["icao24"],
		OriginCountry: fields["origin_country"],
		Longitude:     parseFloat(fields["longitude"]),
		Latitude:      parseFloat(fields["latitude"]),
		AltitudeFt:    parseFloat(fields["altitude_ft"]),
		VelocityKts:   parseFloat(fields["velocity_kts"]),
		HeadingDeg:    parseFloat(fields["heading_deg"]),
		VerticalRate:  parseFloat(fields["vertical_rate"]),
	}
	pos.OnGround, _ = strconv.ParseBool(fields["on_ground"])
	if t, err := time.Parse(time.RFC3339, fields["observed_at"]); err == nil {
		pos.ObservedAt = t
	}
	return pos
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
