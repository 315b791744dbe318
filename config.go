package geocore

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the ambient, process-wide configuration layer: the cache and
// timeout defaults §4 names as constants (IO_CACHE_MAX, IO_BLOCK_SIZE,
// RASTER_CACHE_MAX, SYS_TIMEOUT) plus the raster subset memory pool size,
// all overridable from a config file or GEOCORE_-prefixed environment
// variables.
type Config struct {
	IoBlockSize     int64
	IoCacheMax      int
	RasterCacheMax  int
	SubsetPoolBytes int64
	SysTimeout      time.Duration
	ReadTimeout     time.Duration
}

// LoadConfig reads configPath (if non-empty) and environment overrides into
// a Config, falling back to the package defaults for anything unset.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("GEOCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("io_block_size", DefaultIoBlockSize)
	v.SetDefault("io_cache_max", DefaultIoCacheMax)
	v.SetDefault("raster_cache_max", DefaultRasterCacheMax)
	v.SetDefault("subset_pool_bytes", DefaultSubsetPoolBytes)
	v.SetDefault("sys_timeout_ms", 1000)
	v.SetDefault("read_timeout_ms", 30000)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	return &Config{
		IoBlockSize:     v.GetInt64("io_block_size"),
		IoCacheMax:      v.GetInt("io_cache_max"),
		RasterCacheMax:  v.GetInt("raster_cache_max"),
		SubsetPoolBytes: v.GetInt64("subset_pool_bytes"),
		SysTimeout:      time.Duration(v.GetInt64("sys_timeout_ms")) * time.Millisecond,
		ReadTimeout:     time.Duration(v.GetInt64("read_timeout_ms")) * time.Millisecond,
	}, nil
}

// DefaultConfig returns the package defaults without consulting a file or
// the environment, for callers (mostly tests) that want deterministic
// values.
func DefaultConfig() *Config {
	return &Config{
		IoBlockSize:     DefaultIoBlockSize,
		IoCacheMax:      DefaultIoCacheMax,
		RasterCacheMax:  DefaultRasterCacheMax,
		SubsetPoolBytes: DefaultSubsetPoolBytes,
		SysTimeout:      time.Second,
		ReadTimeout:     30 * time.Second,
	}
}
