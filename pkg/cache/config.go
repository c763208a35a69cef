package cache

import "time"

// RedisOption configures Redis cache.
type RedisOption func(*RedisConfig)

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	Prefix       string
}

func WithRedisAddr(addr string) RedisOption {
	return func(c *RedisConfig) {
		c.Addr = addr
	}
}

func WithRedisPassword(password string) RedisOption {
	return func(c *RedisConfig) {
		c.Password = password
	}
}

func WithRedisDB(db int) RedisOption {
	return func(c *RedisConfig) {
		c.DB = db
	}
}

// WithRedisPool sets connection pool settings.
func WithRedisPool(poolSize, minIdleConns int) RedisOption {
	return func(c *RedisConfig) {
		c.PoolSize = poolSize
		c.MinIdleConns = minIdleConns
	}
}

// WithRedisPrefix sets key prefix.
func WithRedisPrefix(prefix string) RedisOption {
	return func(c *RedisConfig) {
		c.Prefix = prefix
	}
}

// MemoryOption configures Memory cache.
type MemoryOption func(*MemoryConfig)

// MemoryConfig holds memory cache configuration.
type MemoryConfig struct {
	MaxSize         int
	CleanupInterval time.Duration
	DefaultTTL      time.Duration
}

// WithMemoryMaxSize sets max number of entries before LRU eviction.
func WithMemoryMaxSize(size int) MemoryOption {
	return func(c *MemoryConfig) {
		c.MaxSize = size
	}
}

// WithMemoryCleanup sets cleanup interval.
func WithMemoryCleanup(interval time.Duration) MemoryOption {
	return func(c *MemoryConfig) {
		c.CleanupInterval = interval
	}
}

// WithMemoryDefaultTTL is used when Set is called with a non-positive expiration.
func WithMemoryDefaultTTL(ttl time.Duration) MemoryOption {
	return func(c *MemoryConfig) {
		c.DefaultTTL = ttl
	}
}

// SQLiteOption configures the sqlite cache.
type SQLiteOption func(*SQLiteConfig)

// SQLiteConfig holds sqlite cache configuration.
type SQLiteConfig struct {
	Path       string
	Table      string
	DefaultTTL time.Duration
}

// WithSQLitePath sets the database file. ":memory:" keeps it in process.
func WithSQLitePath(path string) SQLiteOption {
	return func(c *SQLiteConfig) {
		c.Path = path
	}
}

func WithSQLiteTable(table string) SQLiteOption {
	return func(c *SQLiteConfig) {
		c.Table = table
	}
}

func WithSQLiteDefaultTTL(ttl time.Duration) SQLiteOption {
	return func(c *SQLiteConfig) {
		c.DefaultTTL = ttl
	}
}

// LayeredOption configures Layered cache.
type LayeredOption func(*LayeredConfig)

// LayeredConfig holds layered cache configuration.
type LayeredConfig struct {
	Memory *MemoryCache
	// BackfillTTL is used for L1 after an L2 hit when L2 cannot report the remaining TTL.
	BackfillTTL time.Duration
}

// WithLayeredMemory supplies a preconfigured L1.
func WithLayeredMemory(mc *MemoryCache) LayeredOption {
	return func(c *LayeredConfig) {
		c.Memory = mc
	}
}

func WithLayeredBackfillTTL(ttl time.Duration) LayeredOption {
	return func(c *LayeredConfig) {
		c.BackfillTTL = ttl
	}
}
