// Package preferences stores per-user search preferences used to seed and
// enrich conversations.
package preferences

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/propadvisor/orchestrator/internal/circuitbreaker"
	"github.com/propadvisor/orchestrator/internal/normalize"
)

// Accepted ranges, matching the catalogue extremes
const (
	MinPriceBound = 55_000
	MaxPriceBound = 840_000_000
	MinAreaBound  = 70
	MaxAreaBound  = 35_000
)

// GenericSeed is used when a user has no stored preferences
const GenericSeed = "Show me some good properties available for sale"

var (
	// ErrNotFound is returned when a user has no stored preferences
	ErrNotFound = errors.New("preferences not found")

	// ErrInvalid wraps every validation failure
	ErrInvalid = errors.New("invalid preferences")
)

// Preferences are a user's saved search bounds
type Preferences struct {
	MinPrice        int64     `json:"min_price" yaml:"min_price"`
	MaxPrice        int64     `json:"max_price" yaml:"max_price"`
	MinArea         int64     `json:"min_area" yaml:"min_area"`
	MaxArea         int64     `json:"max_area" yaml:"max_area"`
	PreferredCities []string  `json:"preferred_cities" yaml:"preferred_cities"`
	UpdatedAt       time.Time `json:"updated_at" yaml:"updated_at"`
}

// Normalize validates p and canonicalises its city names
func (p Preferences) Normalize() (Preferences, error) {
	if p.MinPrice < MinPriceBound || p.MaxPrice > MaxPriceBound {
		return p, fmt.Errorf("%w: price must be within %d and %d", ErrInvalid, MinPriceBound, MaxPriceBound)
	}
	if p.MinPrice > p.MaxPrice {
		return p, fmt.Errorf("%w: min_price exceeds max_price", ErrInvalid)
	}
	if p.MinArea < MinAreaBound || p.MaxArea > MaxAreaBound {
		return p, fmt.Errorf("%w: area must be within %d and %d sq ft", ErrInvalid, MinAreaBound, MaxAreaBound)
	}
	if p.MinArea > p.MaxArea {
		return p, fmt.Errorf("%w: min_area exceeds max_area", ErrInvalid)
	}

	cities := make([]string, 0, len(p.PreferredCities))
	seen := make(map[string]struct{}, len(p.PreferredCities))
	for _, c := range p.PreferredCities {
		city, ok := normalize.CanonicalCity(c)
		if !ok {
			return p, fmt.Errorf("%w: unsupported city %q", ErrInvalid, c)
		}
		if _, dup := seen[city]; dup {
			continue
		}
		seen[city] = struct{}{}
		cities = append(cities, city)
	}
	p.PreferredCities = cities
	return p, nil
}

// Describe renders p for the enhancer prompt
func (p *Preferences) Describe() string {
	lines := []string{
		fmt.Sprintf("- Budget: %s to %s", FormatAmount(p.MinPrice), FormatAmount(p.MaxPrice)),
		fmt.Sprintf("- Area: %d to %d sq ft", p.MinArea, p.MaxArea),
	}
	if len(p.PreferredCities) > 0 {
		lines = append(lines, "- Preferred cities: "+strings.Join(p.PreferredCities, ", "))
	}
	return strings.Join(lines, "\n")
}

// SeedUtterance builds the opening request for a preference-seeded
// conversation; nil preferences give GenericSeed
func SeedUtterance(p *Preferences) string {
	if p == nil {
		return GenericSeed
	}
	var b strings.Builder
	b.WriteString("Show me properties")
	switch len(p.PreferredCities) {
	case 0:
	case 1:
		b.WriteString(" in " + p.PreferredCities[0])
	default:
		last := len(p.PreferredCities) - 1
		b.WriteString(" in " + strings.Join(p.PreferredCities[:last], ", ") + " or " + p.PreferredCities[last])
	}
	fmt.Fprintf(&b, " priced between %s and %s", FormatAmount(p.MinPrice), FormatAmount(p.MaxPrice))
	fmt.Fprintf(&b, " with an area between %d and %d sq ft", p.MinArea, p.MaxArea)
	return b.String()
}

// FormatAmount renders rupees with Indian shorthand (Cr, L)
func FormatAmount(v int64) string {
	switch {
	case v >= normalize.Crore:
		return "₹" + trimFloat(float64(v)/normalize.Crore) + " Cr"
	case v >= normalize.Lakh:
		return "₹" + trimFloat(float64(v)/normalize.Lakh) + " L"
	default:
		return "₹" + strconv.FormatInt(v, 10)
	}
}

func trimFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// Store keeps preferences as JSON documents in Redis
type Store struct {
	client *circuitbreaker.RedisWrapper
	logger *zap.Logger
	now    func() time.Time
}

func NewStore(client *circuitbreaker.RedisWrapper, logger *zap.Logger) *Store {
	return &Store{client: client, logger: logger, now: time.Now}
}

// Get returns the stored preferences for userID
func (s *Store) Get(ctx context.Context, userID string) (*Preferences, error) {
	data, err := s.client.Get(ctx, key(userID))
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get preferences: %w", err)
	}
	var p Preferences
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal preferences: %w", err)
	}
	return &p, nil
}

// Lookup is Get that treats a missing record as nil
func (s *Store) Lookup(ctx context.Context, userID string) (*Preferences, error) {
	p, err := s.Get(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return p, err
}

// Put validates and stores p for userID
func (s *Store) Put(ctx context.Context, userID string, p Preferences) (*Preferences, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalid)
	}
	normalized, err := p.Normalize()
	if err != nil {
		return nil, err
	}
	normalized.UpdatedAt = s.now().UTC()

	data, err := json.Marshal(normalized)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal preferences: %w", err)
	}
	if err := s.client.Set(ctx, key(userID), data, 0); err != nil {
		return nil, fmt.Errorf("failed to store preferences: %w", err)
	}
	s.logger.Info("Stored user preferences",
		zap.String("user_id", userID),
		zap.Strings("cities", normalized.PreferredCities),
	)
	return &normalized, nil
}

func key(userID string) string {
	return fmt.Sprintf("user:%s:preferences", userID)
}
