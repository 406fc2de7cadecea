package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.ini")
	assert.NilError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	assert.NilError(t, err)
	assert.Check(t, is.Equal(cfg.WebService.ListenPort, 9020))
	assert.Check(t, is.Equal(cfg.Worker.Type, "process"))
	assert.Check(t, is.Equal(cfg.WebService.MaxPackageSizeBytes, int64(20*1024*1024)))
	// Total pool memory defaults to max_workers times the per-worker limit.
	assert.Check(t, is.Equal(cfg.Worker.MaxTotalMemoryBytes, uint64(8*500*1024*1024)))
	assert.Check(t, is.Equal(cfg.CachePackage.Extension, ".qpy"))
	assert.Check(t, is.Equal(cfg.CacheRepoIndex.Extension, ".json.gz"))
	assert.Check(t, is.Equal(cfg.Collector.UpdateInterval, 30*time.Minute))
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
[webservice]
listen_port = 8080
allow_lms_packages = true
max_package_size = 50MiB

[worker]
max_workers = 4
max_memory = 1GiB
max_total_memory = 3GiB

[cache_package]
extension = .zip

[collector]
repository_urls = https://repo.example.org/qpy, https://mirror.example.org/qpy/
repo_update_interval = 5m
`)
	cfg, err := Load(path)
	assert.NilError(t, err)
	assert.Check(t, is.Equal(cfg.WebService.ListenPort, 8080))
	assert.Check(t, cfg.WebService.AllowLMSPackages)
	assert.Check(t, is.Equal(cfg.WebService.MaxPackageSizeBytes, int64(50*1024*1024)))
	assert.Check(t, is.Equal(cfg.Worker.MaxWorkers, 4))
	assert.Check(t, is.Equal(cfg.Worker.MaxMemoryBytes, uint64(1<<30)))
	assert.Check(t, is.Equal(cfg.Worker.MaxTotalMemoryBytes, uint64(3<<30)))
	assert.Check(t, is.Equal(cfg.CachePackage.Extension, ".zip"))
	assert.Check(t, is.Equal(cfg.Collector.UpdateInterval, 5*time.Minute))

	assert.Assert(t, is.Len(cfg.Collector.RepositoryBaseURLs, 2))
	// Base URLs always end in a slash so relative references resolve below
	// them.
	assert.Check(t, is.Equal(cfg.Collector.RepositoryBaseURLs[0].String(), "https://repo.example.org/qpy/"))
	assert.Check(t, is.Equal(cfg.Collector.RepositoryBaseURLs[1].String(), "https://mirror.example.org/qpy/"))
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
[webservice]
listen_port = 8080
`)
	t.Setenv("QPY_WEBSERVICE__LISTEN_PORT", "9999")
	t.Setenv("QPY_WORKER__MAX_CPU_TIME_PER_CALL", "2.5")

	cfg, err := Load(path)
	assert.NilError(t, err)
	assert.Check(t, is.Equal(cfg.WebService.ListenPort, 9999))
	assert.Check(t, is.Equal(cfg.Worker.MaxCPUTimePerCall, 2.5))
}

func TestLoadRejectsBadValues(t *testing.T) {
	for name, content := range map[string]string{
		"bad size":           "[webservice]\nmax_package_size = lots\n",
		"bad port":           "[webservice]\nlisten_port = 70000\n",
		"bad type":           "[worker]\ntype = rocket\n",
		"zero workers":       "[worker]\nmax_workers = 0\n",
		"small total memory": "[worker]\nmax_total_memory = 100MiB\n",
		"bad extension":      "[cache_package]\nextension = qpy\n",
		"bad interval":       "[collector]\nrepo_update_interval = soon\n",
		"bad repo url":       "[collector]\nrepository_urls = ftp://repo.example.org/\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, content))
			assert.ErrorContains(t, err, "invalid")
		})
	}
}
