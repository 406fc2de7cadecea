// Package config loads the server settings from an INI file with environment
// overrides. Every key of section S can be overridden by QPY_S__KEY.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/pkg/errors"
	"gopkg.in/ini.v1"

	"github.com/questionpy-org/questionpy-server/api/types"
	"github.com/questionpy-org/questionpy-server/worker/ipc"
)

// EnvPrefix is the prefix of all override variables.
const EnvPrefix = "QPY"

// General holds server-wide settings.
type General struct {
	LogLevel string `ini:"log_level"`
}

// WebService holds the HTTP listener settings and the request caps.
type WebService struct {
	ListenAddress    string `ini:"listen_address"`
	ListenPort       int    `ini:"listen_port"`
	AllowLMSPackages bool   `ini:"allow_lms_packages"`
	MaxPackageSize   string `ini:"max_package_size"`

	MaxPackageSizeBytes int64 `ini:"-"`
}

// Worker holds the isolation settings applied to every worker. MaxMemory is
// the reservation of one worker; MaxTotalMemory bounds the sum of all
// reservations and defaults to max_workers times max_memory.
type Worker struct {
	Type              string  `ini:"type"`
	MaxWorkers        int     `ini:"max_workers"`
	MaxMemory         string  `ini:"max_memory"`
	MaxTotalMemory    string  `ini:"max_total_memory"`
	MaxCPUTimePerCall float64 `ini:"max_cpu_time_per_call"`

	MaxMemoryBytes      uint64 `ini:"-"`
	MaxTotalMemoryBytes uint64 `ini:"-"`
}

// Cache holds the settings of one on-disk cache.
type Cache struct {
	Directory string `ini:"directory"`
	Size      string `ini:"size"`
	Extension string `ini:"extension"`

	SizeBytes int64 `ini:"-"`
}

// Collector holds the package source settings.
type Collector struct {
	LocalDirectory     string   `ini:"local_directory"`
	RepositoryURLs     []string `ini:"repository_urls" delim:","`
	RepoUpdateInterval string   `ini:"repo_update_interval"`

	RepositoryBaseURLs []*url.URL    `ini:"-"`
	UpdateInterval     time.Duration `ini:"-"`
}

// Config is the complete daemon configuration.
type Config struct {
	General        General    `ini:"general"`
	WebService     WebService `ini:"webservice"`
	Worker         Worker     `ini:"worker"`
	CachePackage   Cache      `ini:"cache_package"`
	CacheRepoIndex Cache      `ini:"cache_repo_index"`
	Collector      Collector  `ini:"collector"`
}

// New returns the built-in defaults.
func New() *Config {
	return &Config{
		General: General{LogLevel: "info"},
		WebService: WebService{
			ListenAddress:  "127.0.0.1",
			ListenPort:     9020,
			MaxPackageSize: units.BytesSize(types.DefaultMaxPackageSize),
		},
		Worker: Worker{
			Type:              ipc.WorkerTypeProcess,
			MaxWorkers:        8,
			MaxMemory:         "500MiB",
			MaxCPUTimePerCall: 10,
		},
		CachePackage: Cache{
			Directory: "cache/packages",
			Size:      "100MiB",
			Extension: ".qpy",
		},
		CacheRepoIndex: Cache{
			Directory: "cache/repo_index",
			Size:      "20MiB",
			Extension: ".json.gz",
		},
		Collector: Collector{
			RepoUpdateInterval: "30m",
		},
	}
}

// Load reads path (when non-empty) over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := New()

	opts := ini.LoadOptions{Insensitive: true}
	var source interface{} = []byte{}
	if path != "" {
		source = path
	}
	file, err := ini.LoadSources(opts, source)
	if err != nil {
		return nil, errors.Wrapf(err, "reading configuration %s", path)
	}
	applyEnvOverrides(file)

	if err := file.Section("general").MapTo(&cfg.General); err != nil {
		return nil, errors.Wrap(err, "section general")
	}
	if err := file.Section("webservice").MapTo(&cfg.WebService); err != nil {
		return nil, errors.Wrap(err, "section webservice")
	}
	if err := file.Section("worker").MapTo(&cfg.Worker); err != nil {
		return nil, errors.Wrap(err, "section worker")
	}
	if err := file.Section("cache_package").MapTo(&cfg.CachePackage); err != nil {
		return nil, errors.Wrap(err, "section cache_package")
	}
	if err := file.Section("cache_repo_index").MapTo(&cfg.CacheRepoIndex); err != nil {
		return nil, errors.Wrap(err, "section cache_repo_index")
	}
	if err := file.Section("collector").MapTo(&cfg.Collector); err != nil {
		return nil, errors.Wrap(err, "section collector")
	}

	if err := cfg.resolve(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides copies QPY_SECTION__KEY variables into the INI tree
// before it is mapped.
func applyEnvOverrides(file *ini.File) {
	for _, env := range os.Environ() {
		name, value, ok := strings.Cut(env, "=")
		if !ok || !strings.HasPrefix(name, EnvPrefix+"_") {
			continue
		}
		section, key, ok := strings.Cut(strings.TrimPrefix(name, EnvPrefix+"_"), "__")
		if !ok {
			continue
		}
		file.Section(strings.ToLower(section)).Key(strings.ToLower(key)).SetValue(value)
	}
}

// resolve parses the human-readable fields into their typed forms and
// validates the result. Errors name section and key.
func (c *Config) resolve() error {
	size, err := units.RAMInBytes(c.WebService.MaxPackageSize)
	if err != nil || size <= 0 {
		return badKey("webservice", "max_package_size", c.WebService.MaxPackageSize, err)
	}
	c.WebService.MaxPackageSizeBytes = size

	if c.WebService.ListenPort <= 0 || c.WebService.ListenPort > 65535 {
		return badKey("webservice", "listen_port", fmt.Sprint(c.WebService.ListenPort), nil)
	}

	switch c.Worker.Type {
	case ipc.WorkerTypeProcess, ipc.WorkerTypeThread:
	default:
		return badKey("worker", "type", c.Worker.Type, nil)
	}
	if c.Worker.MaxWorkers <= 0 {
		return badKey("worker", "max_workers", fmt.Sprint(c.Worker.MaxWorkers), nil)
	}
	if c.Worker.MaxCPUTimePerCall <= 0 {
		return badKey("worker", "max_cpu_time_per_call", fmt.Sprint(c.Worker.MaxCPUTimePerCall), nil)
	}
	mem, err := units.RAMInBytes(c.Worker.MaxMemory)
	if err != nil || mem <= 0 {
		return badKey("worker", "max_memory", c.Worker.MaxMemory, err)
	}
	c.Worker.MaxMemoryBytes = uint64(mem)

	if c.Worker.MaxTotalMemory == "" {
		c.Worker.MaxTotalMemoryBytes = uint64(c.Worker.MaxWorkers) * c.Worker.MaxMemoryBytes
	} else {
		total, err := units.RAMInBytes(c.Worker.MaxTotalMemory)
		if err != nil || total <= 0 {
			return badKey("worker", "max_total_memory", c.Worker.MaxTotalMemory, err)
		}
		if uint64(total) < c.Worker.MaxMemoryBytes {
			return badKey("worker", "max_total_memory", c.Worker.MaxTotalMemory,
				errors.New("below max_memory, no worker would ever fit"))
		}
		c.Worker.MaxTotalMemoryBytes = uint64(total)
	}

	for name, cache := range map[string]*Cache{
		"cache_package":    &c.CachePackage,
		"cache_repo_index": &c.CacheRepoIndex,
	} {
		size, err := units.RAMInBytes(cache.Size)
		if err != nil || size <= 0 {
			return badKey(name, "size", cache.Size, err)
		}
		cache.SizeBytes = size
		if !strings.HasPrefix(cache.Extension, ".") {
			return badKey(name, "extension", cache.Extension, nil)
		}
	}

	interval, err := time.ParseDuration(c.Collector.RepoUpdateInterval)
	if err != nil || interval <= 0 {
		return badKey("collector", "repo_update_interval", c.Collector.RepoUpdateInterval, err)
	}
	c.Collector.UpdateInterval = interval

	c.Collector.RepositoryBaseURLs = c.Collector.RepositoryBaseURLs[:0]
	for _, raw := range c.Collector.RepositoryURLs {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if !strings.HasSuffix(raw, "/") {
			raw += "/"
		}
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return badKey("collector", "repository_urls", raw, err)
		}
		c.Collector.RepositoryBaseURLs = append(c.Collector.RepositoryBaseURLs, u)
	}
	return nil
}

func badKey(section, key, value string, err error) error {
	if err != nil {
		return errors.Wrapf(err, "invalid %s.%s %q", section, key, value)
	}
	return errors.Errorf("invalid %s.%s %q", section, key, value)
}

// WorkerLimits returns the per-worker resource limits.
func (c *Config) WorkerLimits() types.WorkerResourceLimits {
	return types.WorkerResourceLimits{
		MaxMemory:                c.Worker.MaxMemoryBytes,
		MaxCPUTimeSecondsPerCall: c.Worker.MaxCPUTimePerCall,
	}
}
