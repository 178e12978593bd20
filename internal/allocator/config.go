package allocator

import "fmt"

const (
	// DefaultPoolSize is the default carvable size, in bytes, of a
	// tracked pool. The pool header is not counted in it: each pool's
	// mapping is this size plus the header. Mirrors OCTANE_POOL_SIZE.
	DefaultPoolSize = 65536
	minPoolSize     = 4096

	// DefaultTrackedPoolCount is the default number of pool slots a
	// root tracks. Mirrors OCTANE_TRACKED_POOL_COUNT.
	DefaultTrackedPoolCount = 256
	minTrackedPoolCount     = 64

	// DefaultRecycleThreshold is the default pool_free floor below
	// which a tracked slot may be evicted. Alloc evicts only when the
	// slot table has no empty slot and no tracked pool can serve the
	// request, and then only the one slot with the least free space;
	// while empty slots remain, pools under the floor stay tracked.
	// Mirrors OCTANE_RECYLCE_THRESHOLD.
	DefaultRecycleThreshold = 128
	minRecycleThreshold     = 128

	// Alignment is the allocator's coarse alignment unit. Fixed, not
	// configurable: every header size in this package is asserted to
	// be a multiple of it at init time.
	Alignment = 16
)

// Logger receives rare diagnostic events; the only one reported is an
// Allocator finalized without Close. It is never called from the
// allocate or free fast path. The zero value is a no-op.
type Logger func(format string, args ...any)

// Config configures an Allocator. Build one through NewAllocator and
// Option values rather than constructing it directly.
type Config struct {
	PoolSize         int
	TrackedPoolCount int
	RecycleThreshold int
	Logger           Logger
}

func defaultConfig() *Config {
	return &Config{
		PoolSize:         DefaultPoolSize,
		TrackedPoolCount: DefaultTrackedPoolCount,
		RecycleThreshold: DefaultRecycleThreshold,
		Logger:           func(string, ...any) {},
	}
}

// Option configures an Allocator at construction time.
type Option func(*Config)

// WithPoolSize overrides the carvable size of each tracked pool; the
// pool header is allocated in addition to it. Values below minPoolSize are rejected by
// NewAllocator rather than floored.
func WithPoolSize(size int) Option {
	return func(c *Config) { c.PoolSize = size }
}

// WithTrackedPoolCount overrides the number of pool slots a root
// tracks.
func WithTrackedPoolCount(n int) Option {
	return func(c *Config) { c.TrackedPoolCount = n }
}

// WithRecycleThreshold overrides the pool_free eviction floor.
func WithRecycleThreshold(n int) Option {
	return func(c *Config) { c.RecycleThreshold = n }
}

// WithLogger overrides the diagnostic logger.
func WithLogger(l Logger) Option {
	return func(c *Config) { c.Logger = l }
}

func (c *Config) validate() error {
	if c.PoolSize < minPoolSize {
		return &configError{Category: CategoryValidation, Field: "PoolSize",
			Message: fmt.Sprintf("must be >= %d, got %d", minPoolSize, c.PoolSize)}
	}

	if c.TrackedPoolCount < minTrackedPoolCount {
		return &configError{Category: CategoryValidation, Field: "TrackedPoolCount",
			Message: fmt.Sprintf("must be >= %d, got %d", minTrackedPoolCount, c.TrackedPoolCount)}
	}

	if c.RecycleThreshold < minRecycleThreshold {
		return &configError{Category: CategoryValidation, Field: "RecycleThreshold",
			Message: fmt.Sprintf("must be >= %d, got %d", minRecycleThreshold, c.RecycleThreshold)}
	}

	if c.Logger == nil {
		c.Logger = func(string, ...any) {}
	}

	return nil
}
