package model

type Config struct {
	Project ProjectConfig `yaml:"project"`
	Store   StoreConfig   `yaml:"store"`
	Watcher WatcherConfig `yaml:"watcher"`
	Remote  RemoteConfig  `yaml:"remote"`
	Daemon  DaemonConfig  `yaml:"daemon"`
	Logging LoggingConfig `yaml:"logging"`
}

type ProjectConfig struct {
	Name    string `yaml:"name"`
	Created string `yaml:"created"`
}

type StoreConfig struct {
	// Path of the invoice store file, relative to the invoq directory.
	Path string `yaml:"path"`
}

type WatcherConfig struct {
	DebounceSec     float64 `yaml:"debounce_sec"`
	ScanIntervalSec int     `yaml:"scan_interval_sec"`
}

type RemoteConfig struct {
	Endpoint       string `yaml:"endpoint"`
	SyncTimeoutSec int    `yaml:"sync_timeout_sec"`
}

type DaemonConfig struct {
	ShutdownTimeoutSec int  `yaml:"shutdown_timeout_sec"`
	StartOnline        bool `yaml:"start_online"`
	Notify             bool `yaml:"notify"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns the configuration written by `invoq init`.
func DefaultConfig(projectName string) Config {
	return Config{
		Project: ProjectConfig{Name: projectName},
		Store:   StoreConfig{Path: "data/invoices.yaml"},
		Watcher: WatcherConfig{
			DebounceSec:     0.5,
			ScanIntervalSec: 10,
		},
		Remote: RemoteConfig{
			Endpoint:       "http://localhost:8787/sync",
			SyncTimeoutSec: 30,
		},
		Daemon: DaemonConfig{
			ShutdownTimeoutSec: 10,
			StartOnline:        true,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}
