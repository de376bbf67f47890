// Package config loads and validates sentineld's YAML configuration: a
// single typed struct with a sequential Validate() method checking each
// field in turn and returning the first failure.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ActionMode is the real-time action policy mode.
type ActionMode string

const (
	ModeAutoQuarantine ActionMode = "auto-quarantine"
	ModeAutoBlock      ActionMode = "auto-block"
	ModeAskUser        ActionMode = "ask-user"
)

// EngineWeights overrides the default per-engine weights used by the
// aggregator's weighted-score formula.
type EngineWeights struct {
	Signature  float64 `yaml:"signature"`
	Heuristic  float64 `yaml:"heuristic"`
	ML         float64 `yaml:"ml"`
	Reputation float64 `yaml:"reputation"`
	Script     float64 `yaml:"script"`
	Defender   float64 `yaml:"defender"`
	VirusTotal float64 `yaml:"virus_total"`
}

// DefaultEngineWeights mirrors : "signature 1.0, heuristic 0.8,
// ML 0.7, reputation 0.5, script 0.6; external engines 0.9/0.9."
func DefaultEngineWeights() EngineWeights {
	return EngineWeights{
		Signature:  1.0,
		Heuristic:  0.8,
		ML:         0.7,
		Reputation: 0.5,
		Script:     0.6,
		Defender:   0.9,
		VirusTotal: 0.9,
	}
}

// Config is sentineld's full runtime configuration (the configuration
// options table).
type Config struct {
	// Action policy
	RealTimeActionMode ActionMode `yaml:"real_time_action_mode"`
	AutoQuarantineMin  int        `yaml:"auto_quarantine_min_score"`
	AskUserMin         int        `yaml:"ask_user_min_score"`
	BlockThreshold     int        `yaml:"block_threshold"`
	QuarantineThreshold int       `yaml:"quarantine_threshold"`
	ReviewThreshold    int        `yaml:"review_threshold"`
	SuspicionMin       int        `yaml:"suspicion_min"`
	SuspicionMax       int        `yaml:"suspicion_max"`
	QuickGateThreshold int        `yaml:"quick_gate_threshold"`

	// Pipeline sizing
	PipelineQueueCapacity        int `yaml:"pipeline_queue_capacity"`
	PipelineHighPressureThreshold int `yaml:"pipeline_high_pressure_threshold"`
	PipelineScanWorkers          int `yaml:"pipeline_scan_workers"`
	EventCoalesceMs              int `yaml:"event_coalesce_ms"`
	DegradedThreshold            int `yaml:"degraded_threshold"`
	DegradedRecoveryThreshold    int `yaml:"degraded_recovery_threshold"`

	// Quarantine retry policy
	AtomicMoveMaxRetries     int `yaml:"atomic_move_max_retries"`
	AtomicMoveInitialDelayMs int `yaml:"atomic_move_initial_delay_ms"`
	AtomicMoveMaxDelayMs     int `yaml:"atomic_move_max_delay_ms"`

	// Engine weights
	EngineWeights EngineWeights `yaml:"engine_weights"`

	// Cache sizing
	ScanCacheTTLMinutes  int `yaml:"scan_cache_ttl_minutes"`
	ScanCacheMaxEntries  int `yaml:"scan_cache_max_entries"`

	// Second-opinion triggers
	EnableDefenderSecondOpinion      bool `yaml:"enable_defender_second_opinion"`
	EnableVirusTotalSecondOpinion    bool `yaml:"enable_virus_total_second_opinion"`
	DefenderWhenDisagree             bool `yaml:"defender_when_disagree"`
	DefenderWhenTempOrAppdata        bool `yaml:"defender_when_temp_or_appdata"`
	VirusTotalWhenUnsignedSuspicious bool `yaml:"virus_total_when_unsigned_suspicious_path"`

	// Scoping
	SHA256Allowlist    []string `yaml:"sha256_allowlist"`
	ExcludedExtensions []string `yaml:"excluded_extensions"`
	ExcludedFolders    []string `yaml:"excluded_folders"`
	QuarantinePath     string   `yaml:"quarantine_path"`
	MaxFileSizeMB      int      `yaml:"max_file_size_mb"`

	// Watchdog
	WatchdogIntervalSeconds     int `yaml:"watchdog_interval_seconds"`
	WatchdogRestartLimit        int `yaml:"watchdog_restart_limit"`
	WatchdogRestartWindowSeconds int `yaml:"watchdog_restart_window_seconds"`

	// Control surface
	ControlPort int `yaml:"control_port"`
	NATSEnabled bool `yaml:"nats_enabled"`
	NATSPort    int  `yaml:"nats_port"`

	// Second-opinion engine locations/credentials
	DefenderBinaryPath string `yaml:"defender_binary_path"`
	VirusTotalAPIKey   string `yaml:"virus_total_api_key"`
	VirusTotalBaseURL  string `yaml:"virus_total_base_url"`

	// Signature/prevalence store locations
	SignatureDBPath  string   `yaml:"signature_db_path"`
	PrevalenceDBPath string   `yaml:"prevalence_db_path"`
	RealTimeRoots    []string `yaml:"real_time_roots"`
}

// Default returns the built-in defaults, used when no config file is present
// and as the base that a loaded file is merged onto.
func Default() *Config {
	return &Config{
		RealTimeActionMode:           ModeAutoQuarantine,
		AutoQuarantineMin:            70,
		AskUserMin:                   30,
		BlockThreshold:               90,
		QuarantineThreshold:          70,
		ReviewThreshold:              40,
		SuspicionMin:                 30,
		SuspicionMax:                 69,
		QuickGateThreshold:           50,
		PipelineQueueCapacity:        10000,
		PipelineHighPressureThreshold: 7500,
		PipelineScanWorkers:          4,
		EventCoalesceMs:              500,
		DegradedThreshold:            8000,
		DegradedRecoveryThreshold:    4000,
		AtomicMoveMaxRetries:         5,
		AtomicMoveInitialDelayMs:     50,
		AtomicMoveMaxDelayMs:         2000,
		EngineWeights:                DefaultEngineWeights(),
		ScanCacheTTLMinutes:          30,
		ScanCacheMaxEntries:          20000,
		EnableDefenderSecondOpinion:   true,
		EnableVirusTotalSecondOpinion: true,
		DefenderWhenDisagree:          true,
		DefenderWhenTempOrAppdata:     true,
		VirusTotalWhenUnsignedSuspicious: true,
		ExcludedExtensions:           []string{".tmp", ".log", ".partial"},
		QuarantinePath:               `C:\ProgramData\sentineld\quarantine`,
		MaxFileSizeMB:                200,
		WatchdogIntervalSeconds:      5,
		WatchdogRestartLimit:         3,
		WatchdogRestartWindowSeconds: 60,
		ControlPort:                  8765,
		NATSEnabled:                  false,
		NATSPort:                     4222,
		DefenderBinaryPath:           `C:\Program Files\Windows Defender\MpCmdRun.exe`,
		VirusTotalBaseURL:            "https://www.virustotal.com/api/v3",
		SignatureDBPath:              `C:\ProgramData\sentineld\signatures.db`,
		PrevalenceDBPath:             `C:\ProgramData\sentineld\prevalence.db`,
		RealTimeRoots:                []string{`C:\Users`},
	}
}

// Load reads a YAML config file from path, merging it onto Default(). A
// missing file is not an error; the defaults are returned unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for internally-consistent values,
// following the sequential fmt.Errorf check style used elsewhere in this
// codebase's validation methods.
func (c *Config) Validate() error {
	switch c.RealTimeActionMode {
	case ModeAutoQuarantine, ModeAutoBlock, ModeAskUser:
	default:
		return fmt.Errorf("real_time_action_mode: unknown mode %q", c.RealTimeActionMode)
	}
	if c.BlockThreshold < c.QuarantineThreshold {
		return fmt.Errorf("block_threshold (%d) must be >= quarantine_threshold (%d)", c.BlockThreshold, c.QuarantineThreshold)
	}
	if c.QuarantineThreshold < c.ReviewThreshold {
		return fmt.Errorf("quarantine_threshold (%d) must be >= review_threshold (%d)", c.QuarantineThreshold, c.ReviewThreshold)
	}
	if c.SuspicionMin > c.SuspicionMax {
		return fmt.Errorf("suspicion_min (%d) must be <= suspicion_max (%d)", c.SuspicionMin, c.SuspicionMax)
	}
	if c.PipelineQueueCapacity <= 0 {
		return fmt.Errorf("pipeline_queue_capacity must be positive")
	}
	if c.PipelineScanWorkers <= 0 {
		return fmt.Errorf("pipeline_scan_workers must be positive")
	}
	if c.DegradedRecoveryThreshold > c.DegradedThreshold {
		return fmt.Errorf("degraded_recovery_threshold (%d) must be <= degraded_threshold (%d)", c.DegradedRecoveryThreshold, c.DegradedThreshold)
	}
	if c.QuarantinePath == "" {
		return fmt.Errorf("quarantine_path must be set")
	}
	if c.ScanCacheMaxEntries <= 0 {
		return fmt.Errorf("scan_cache_max_entries must be positive")
	}
	if c.WatchdogRestartLimit <= 0 {
		return fmt.Errorf("watchdog_restart_limit must be positive")
	}
	return nil
}

// CacheTTL returns the scan cache TTL as a time.Duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.ScanCacheTTLMinutes) * time.Minute
}

// WatchdogInterval returns the watchdog tick interval as a time.Duration.
func (c *Config) WatchdogInterval() time.Duration {
	return time.Duration(c.WatchdogIntervalSeconds) * time.Second
}

// WatchdogRestartWindow returns the crash-loop accounting window.
func (c *Config) WatchdogRestartWindow() time.Duration {
	return time.Duration(c.WatchdogRestartWindowSeconds) * time.Second
}

// IsAllowlisted reports whether sha256 (lowercase hex) is in the allowlist.
func (c *Config) IsAllowlisted(sha256 string) bool {
	for _, h := range c.SHA256Allowlist {
		if h == sha256 {
			return true
		}
	}
	return false
}

// AddToAllowlist appends sha256 if not already present. Callers are
// responsible for persisting the config afterwards.
func (c *Config) AddToAllowlist(sha256 string) {
	if c.IsAllowlisted(sha256) {
		return
	}
	c.SHA256Allowlist = append(c.SHA256Allowlist, sha256)
}

// Save writes the configuration back to path as YAML, via a temp file
// plus rename so a crash mid-write never corrupts the existing file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".sentineld-config-tmp-*")
	if err != nil {
		return fmt.Errorf("create temp config file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp config file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp config file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp config file into place: %w", err)
	}
	return nil
}
