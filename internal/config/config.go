// Package config provides unified configuration for all photcat services.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Mode represents the service mode to run.
type Mode string

const (
	ModeAll      Mode = "all"
	ModeIngest   Mode = "ingest"
	ModeInspect  Mode = "inspect"
	ModeMaintain Mode = "maintain"
)

// Config holds the unified configuration for all photcat services.
type Config struct {
	// Mode specifies which services to run: all, ingest, inspect, maintain
	Mode Mode `json:"mode" yaml:"mode"`

	// DataDir is the base directory for all data files
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// HTTP configuration
	HTTP HTTPConfig `json:"http" yaml:"http"`

	// Storage configuration for archived products
	Storage StorageConfig `json:"storage" yaml:"storage"`

	// Registry configuration for the product ledger
	Registry RegistryConfig `json:"registry" yaml:"registry"`

	// Store configuration for catalog container output
	Store StoreConfig `json:"store" yaml:"store"`

	// Quality configuration for star classification
	Quality QualityConfig `json:"quality" yaml:"quality"`

	// Maintain service configuration
	Maintain MaintainConfig `json:"maintain" yaml:"maintain"`

	// Params is the run parameter store, keyed by lowercase parameter name
	// (e.g. snrcut, wfc3_uvis_sharp). The pipeline reads quality thresholds
	// from it and writes det_filters and any defaulted keys back under its
	// own lock; nothing else mutates it after startup.
	Params map[string]string `json:"params" yaml:"params"`
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	// IngestAddr is the HTTP address for the ingest service
	IngestAddr string `json:"ingest_addr" yaml:"ingest_addr"`

	// InspectAddr is the HTTP address for the inspect service
	InspectAddr string `json:"inspect_addr" yaml:"inspect_addr"`

	// ReadTimeout is the HTTP read timeout
	ReadTimeout time.Duration `json:"read_timeout" yaml:"read_timeout"`

	// WriteTimeout is the HTTP write timeout
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`

	// IdleTimeout is the HTTP idle timeout
	IdleTimeout time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
}

// StorageConfig holds archive storage configuration.
type StorageConfig struct {
	// Type is the storage type: local, s3
	Type string `json:"type" yaml:"type"`

	// Path is the local storage path (for local type)
	Path string `json:"path" yaml:"path"`

	// CacheDir is the directory for fetched remote objects
	CacheDir string `json:"cache_dir" yaml:"cache_dir"`

	// CacheMaxBytes caps the fetch cache size; 0 means 1 GiB
	CacheMaxBytes int64 `json:"cache_max_bytes" yaml:"cache_max_bytes"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	// Bucket is the S3 bucket name
	Bucket string `json:"bucket" yaml:"bucket"`

	// Region is the AWS region
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// KeyPrefix is prepended to all object keys
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`
}

// RegistryConfig holds product-ledger configuration.
type RegistryConfig struct {
	// Path is the registry database path
	Path string `json:"path" yaml:"path"`

	// ReadPoolSize is the maximum number of read-only SQLite connections
	ReadPoolSize int `json:"read_pool_size" yaml:"read_pool_size"`
}

// StoreConfig holds catalog container output configuration.
type StoreConfig struct {
	// OutputDir is the directory for produced catalog containers
	OutputDir string `json:"output_dir" yaml:"output_dir"`

	// Codec is the section compression codec: zlib, snappy
	Codec string `json:"codec" yaml:"codec"`

	// ReadWorkers is the number of parallel catalog scan workers (1–64)
	ReadWorkers int `json:"read_workers" yaml:"read_workers"`
}

// QualityConfig holds star classification configuration.
type QualityConfig struct {
	// SNRCut overrides the signal-to-noise threshold when > 0.
	// Resolve seeds it into Params as snrcut, so the classifier still
	// reads thresholds from one place.
	SNRCut float64 `json:"snr_cut" yaml:"snr_cut"`
}

// MaintainConfig holds maintenance service configuration.
type MaintainConfig struct {
	// Interval is the time between reconcile/prune passes
	Interval time.Duration `json:"interval" yaml:"interval"`

	// RetentionDays is the age past which superseded products are pruned
	RetentionDays int `json:"retention_days" yaml:"retention_days"`
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		Mode:    ModeAll,
		DataDir: "./data/photcat",
		HTTP: HTTPConfig{
			IngestAddr:   ":8080",
			InspectAddr:  ":8081",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		Storage: StorageConfig{
			Type:          "local",
			Path:          "",
			CacheDir:      "",
			CacheMaxBytes: 0,
		},
		Registry: RegistryConfig{
			Path:         "",
			ReadPoolSize: 8,
		},
		Store: StoreConfig{
			OutputDir:   "",
			Codec:       "zlib",
			ReadWorkers: 4,
		},
		Quality: QualityConfig{
			SNRCut: 0,
		},
		Maintain: MaintainConfig{
			Interval:      15 * time.Minute,
			RetentionDays: 30,
		},
		Params: map[string]string{},
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/photcat"
	}

	// Resolve storage paths
	if c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(c.DataDir, "storage")
	}
	if c.Storage.CacheDir == "" {
		c.Storage.CacheDir = filepath.Join(c.DataDir, "cache")
	}

	// Resolve registry path
	if c.Registry.Path == "" {
		c.Registry.Path = filepath.Join(c.DataDir, "registry.db")
	}

	// Resolve store output path
	if c.Store.OutputDir == "" {
		c.Store.OutputDir = filepath.Join(c.DataDir, "products")
	}

	if c.Params == nil {
		c.Params = map[string]string{}
	}

	// A structured SNR override is seeded into the parameter store so the
	// classifier reads every threshold from the same place.
	if c.Quality.SNRCut > 0 {
		if _, ok := c.Params["snrcut"]; !ok {
			c.Params["snrcut"] = fmt.Sprintf("%g", c.Quality.SNRCut)
		}
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeAll, ModeIngest, ModeInspect, ModeMaintain:
		// Valid modes
	default:
		return fmt.Errorf("invalid mode: %s (must be all, ingest, inspect, or maintain)", c.Mode)
	}

	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	if c.Storage.Type != "local" && c.Storage.Type != "s3" {
		return fmt.Errorf("invalid storage type: %s (must be local or s3)", c.Storage.Type)
	}

	if c.Storage.Type == "s3" && c.Storage.S3.Bucket == "" {
		return fmt.Errorf("s3.bucket is required when storage type is s3")
	}

	if c.Store.Codec != "zlib" && c.Store.Codec != "snappy" {
		return fmt.Errorf("invalid store codec: %s (must be zlib or snappy)", c.Store.Codec)
	}

	if c.Store.ReadWorkers < 1 || c.Store.ReadWorkers > 64 {
		return fmt.Errorf("store.read_workers must be between 1 and 64, got %d", c.Store.ReadWorkers)
	}

	if c.Quality.SNRCut < 0 {
		return fmt.Errorf("quality.snr_cut must not be negative, got %g", c.Quality.SNRCut)
	}

	if c.Maintain.RetentionDays < 0 {
		return fmt.Errorf("maintain.retention_days must not be negative, got %d", c.Maintain.RetentionDays)
	}

	return nil
}

// ShouldRunIngest returns true if the ingest service should run.
func (c *Config) ShouldRunIngest() bool {
	return c.Mode == ModeAll || c.Mode == ModeIngest
}

// ShouldRunInspect returns true if the inspect service should run.
func (c *Config) ShouldRunInspect() bool {
	return c.Mode == ModeAll || c.Mode == ModeInspect
}

// ShouldRunMaintain returns true if the maintain service should run.
func (c *Config) ShouldRunMaintain() bool {
	return c.Mode == ModeAll || c.Mode == ModeMaintain
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the PHOTCAT_ prefix; PHOTCAT_PARAM_<KEY>
// variables populate the Params store under the lowercased key.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("PHOTCAT_MODE"); v != "" {
		cfg.Mode = Mode(v)
	}
	if v := os.Getenv("PHOTCAT_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}

	// HTTP configuration
	if v := os.Getenv("PHOTCAT_HTTP_INGEST_ADDR"); v != "" {
		cfg.HTTP.IngestAddr = v
	}
	if v := os.Getenv("PHOTCAT_HTTP_INSPECT_ADDR"); v != "" {
		cfg.HTTP.InspectAddr = v
	}

	// Storage configuration
	if v := os.Getenv("PHOTCAT_STORAGE_TYPE"); v != "" {
		cfg.Storage.Type = v
	}
	if v := os.Getenv("PHOTCAT_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("PHOTCAT_STORAGE_CACHE_DIR"); v != "" {
		cfg.Storage.CacheDir = v
	}
	if v := os.Getenv("PHOTCAT_S3_BUCKET"); v != "" {
		cfg.Storage.S3.Bucket = v
	}
	if v := os.Getenv("PHOTCAT_S3_REGION"); v != "" {
		cfg.Storage.S3.Region = v
	}
	if v := os.Getenv("PHOTCAT_S3_ENDPOINT"); v != "" {
		cfg.Storage.S3.Endpoint = v
	}
	if v := os.Getenv("PHOTCAT_S3_KEY_PREFIX"); v != "" {
		cfg.Storage.S3.KeyPrefix = v
	}

	// Registry configuration
	if v := os.Getenv("PHOTCAT_REGISTRY_PATH"); v != "" {
		cfg.Registry.Path = v
	}
	if v := os.Getenv("PHOTCAT_REGISTRY_READ_POOL_SIZE"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Registry.ReadPoolSize)
	}

	// Store configuration
	if v := os.Getenv("PHOTCAT_STORE_OUTPUT_DIR"); v != "" {
		cfg.Store.OutputDir = v
	}
	if v := os.Getenv("PHOTCAT_STORE_CODEC"); v != "" {
		cfg.Store.Codec = v
	}
	if v := os.Getenv("PHOTCAT_STORE_READ_WORKERS"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Store.ReadWorkers)
	}

	// Quality configuration
	if v := os.Getenv("PHOTCAT_QUALITY_SNR_CUT"); v != "" {
		fmt.Sscanf(v, "%g", &cfg.Quality.SNRCut)
	}

	// Maintain configuration
	if v := os.Getenv("PHOTCAT_MAINTAIN_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Maintain.Interval = d
		}
	}
	if v := os.Getenv("PHOTCAT_MAINTAIN_RETENTION_DAYS"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Maintain.RetentionDays)
	}

	// Run parameters
	for _, kv := range os.Environ() {
		const prefix = "PHOTCAT_PARAM_"
		if !strings.HasPrefix(kv, prefix) {
			continue
		}
		rest := kv[len(prefix):]
		eq := strings.IndexByte(rest, '=')
		if eq <= 0 {
			continue
		}
		if cfg.Params == nil {
			cfg.Params = map[string]string{}
		}
		cfg.Params[strings.ToLower(rest[:eq])] = rest[eq+1:]
	}
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.DataDir,
		c.Storage.CacheDir,
		c.Store.OutputDir,
	}
	if c.Storage.Type == "local" {
		dirs = append(dirs, c.Storage.Path)
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
