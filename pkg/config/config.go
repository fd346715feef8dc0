// Package config loads and validates the INI configuration file
// described in spec.md §6: general options, up to 32 server
// descriptors, repair knobs, monitoring cadence, and security toggles.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/ini.v1"

	"github.com/netchunk/netchunk/pkg/errs"
)

// Size clamp bounds from spec.md §6.
const (
	MinChunkSize = 1 << 20  // 1 MiB
	MaxChunkSize = 64 << 20 // 64 MiB

	MinReplicationFactor = 1
	MaxReplicationFactor = 10

	MinPoolSize = 1
	MaxPoolSize = 32

	MinFTPTimeout = 5 * time.Second
	MaxFTPTimeout = 300 * time.Second

	MaxServers = 32
)

// ServerDescriptor is the per-server entity from spec.md §3: a stable
// configuration-time identity embedded in every chunk location that
// refers to this server.
type ServerDescriptor struct {
	ServerID    string
	Host        string
	Port        int
	Username    string
	Password    string
	BasePath    string
	UseTLS      bool
	PassiveMode bool
	Priority    int

	// Status is mutated by health probes, not by configuration
	// loading; it starts Unknown.
	Status      HealthStatus
	LastLatency time.Duration
}

// HealthStatus classifies a server's last probe result.
type HealthStatus int

const (
	HealthUnknown HealthStatus = iota
	HealthHealthy
	HealthUnreachable
)

// GeneralConfig holds the [general] section.
type GeneralConfig struct {
	ChunkSize                 int64
	ReplicationFactor         int
	MaxConcurrentOperations   int
	FTPTimeout                time.Duration
	LogLevel                  string
	LogFile                   string
	LocalStoragePath          string
	HealthMonitoringEnabled   bool
	HealthCheckInterval       time.Duration
}

// RepairConfig holds the [repair] section.
type RepairConfig struct {
	AutoRepairEnabled   bool
	MaxRepairAttempts   int
	RepairDelay         time.Duration
	RebalancingEnabled  bool
}

// SecurityConfig holds the [security] section.
type SecurityConfig struct {
	VerifySSLCertificates bool
	AlwaysVerifyIntegrity bool
	EncryptChunks         bool
}

// Config is the fully parsed, validated, read-only-after-load
// configuration tree (spec.md §3 "Configuration").
type Config struct {
	General  GeneralConfig
	Servers  []*ServerDescriptor
	Repair   RepairConfig
	Security SecurityConfig
}

// MinReplicasFor returns the minimum number of replicas considered
// acceptable, given the configured replication factor. spec.md leaves
// min_replicas_required a manifest-level field set at upload time; the
// config-level default is the replication factor itself (no configured
// slack), which callers may lower per-manifest.
func (c *Config) MinReplicasFor() int {
	return c.General.ReplicationFactor
}

// Load reads and validates the INI file at path.
func Load(path string) (*Config, error) {
	path = expandHome(path)

	raw, err := ini.Load(path)
	if err != nil {
		return nil, errs.New(errs.ConfigParse, "failed to parse config file: "+path, err)
	}

	cfg := &Config{}

	if err := parseGeneral(raw, cfg); err != nil {
		return nil, err
	}
	if err := parseServers(raw, cfg); err != nil {
		return nil, err
	}
	parseRepair(raw, cfg)
	parseSecurity(raw, cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func parseGeneral(raw *ini.File, cfg *Config) error {
	sec := raw.Section("general")

	chunkSize, err := parseSizeWithSuffix(sec.Key("chunk_size").MustString("4M"))
	if err != nil {
		return errs.New(errs.ConfigParse, "invalid chunk_size", err)
	}
	cfg.General.ChunkSize = clampInt64(chunkSize, MinChunkSize, MaxChunkSize)

	cfg.General.ReplicationFactor = clampInt(sec.Key("replication_factor").MustInt(3), MinReplicationFactor, MaxReplicationFactor)
	cfg.General.MaxConcurrentOperations = clampInt(sec.Key("max_concurrent_operations").MustInt(8), MinPoolSize, MaxPoolSize)

	timeoutSec := sec.Key("ftp_timeout").MustInt(30)
	timeout := time.Duration(timeoutSec) * time.Second
	if timeout < MinFTPTimeout {
		timeout = MinFTPTimeout
	}
	if timeout > MaxFTPTimeout {
		timeout = MaxFTPTimeout
	}
	cfg.General.FTPTimeout = timeout

	cfg.General.LogLevel = sec.Key("log_level").MustString("info")
	cfg.General.LogFile = expandHome(sec.Key("log_file").MustString("netchunk.log"))
	cfg.General.LocalStoragePath = expandHome(sec.Key("local_storage_path").MustString("."))
	cfg.General.HealthMonitoringEnabled = sec.Key("health_monitoring_enabled").MustBool(true)
	cfg.General.HealthCheckInterval = time.Duration(sec.Key("health_check_interval").MustInt(60)) * time.Second

	return nil
}

func parseServers(raw *ini.File, cfg *Config) error {
	for n := 1; n <= MaxServers; n++ {
		name := fmt.Sprintf("server_%d", n)
		if !raw.HasSection(name) {
			continue
		}
		sec := raw.Section(name)

		host := sec.Key("host").String()
		if host == "" {
			return errs.New(errs.ConfigValidation, name+": host is required", nil)
		}

		desc := &ServerDescriptor{
			ServerID:    name,
			Host:        host,
			Port:        sec.Key("port").MustInt(21),
			Username:    sec.Key("username").String(),
			Password:    sec.Key("password").String(),
			BasePath:    normalizeBasePath(sec.Key("base_path").MustString("/")),
			UseTLS:      sec.Key("use_ssl").MustBool(false),
			PassiveMode: sec.Key("passive_mode").MustBool(true),
			Priority:    sec.Key("priority").MustInt(0),
			Status:      HealthUnknown,
		}
		cfg.Servers = append(cfg.Servers, desc)
	}
	return nil
}

func parseRepair(raw *ini.File, cfg *Config) {
	sec := raw.Section("repair")
	cfg.Repair.AutoRepairEnabled = sec.Key("auto_repair_enabled").MustBool(true)
	cfg.Repair.MaxRepairAttempts = sec.Key("max_repair_attempts").MustInt(3)
	cfg.Repair.RepairDelay = time.Duration(sec.Key("repair_delay").MustInt(5)) * time.Second
	cfg.Repair.RebalancingEnabled = sec.Key("rebalancing_enabled").MustBool(false)
}

func parseSecurity(raw *ini.File, cfg *Config) {
	sec := raw.Section("security")
	cfg.Security.VerifySSLCertificates = sec.Key("verify_ssl_certificates").MustBool(true)
	cfg.Security.AlwaysVerifyIntegrity = sec.Key("always_verify_integrity").MustBool(true)
	cfg.Security.EncryptChunks = sec.Key("encrypt_chunks").MustBool(false)
}

// Validate asserts the cross-field invariants from spec.md §3/§6/§7.
// A failure here is fatal at startup (spec.md §7).
func Validate(cfg *Config) error {
	if len(cfg.Servers) == 0 {
		return errs.New(errs.ConfigValidation, "at least one server_N section is required", nil)
	}

	seen := make(map[string]bool, len(cfg.Servers))
	for _, s := range cfg.Servers {
		if seen[s.ServerID] {
			return errs.New(errs.ConfigValidation, "duplicate server id: "+s.ServerID, nil)
		}
		seen[s.ServerID] = true
	}

	if cfg.General.ChunkSize < MinChunkSize || cfg.General.ChunkSize > MaxChunkSize {
		return errs.New(errs.ConfigValidation, "chunk_size out of range", nil)
	}

	if len(cfg.Servers) < cfg.General.ReplicationFactor {
		return errs.New(errs.InsufficientServers,
			fmt.Sprintf("replication_factor=%d but only %d servers configured", cfg.General.ReplicationFactor, len(cfg.Servers)),
			nil)
	}

	return nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampInt64(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// parseSizeWithSuffix parses a byte size with an optional K/M/G suffix
// (case-insensitive), per spec.md §6.
func parseSizeWithSuffix(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}

	multiplier := int64(1)
	upper := strings.ToUpper(s)
	switch {
	case strings.HasSuffix(upper, "G"):
		multiplier = 1 << 30
		s = s[:len(s)-1]
	case strings.HasSuffix(upper, "M"):
		multiplier = 1 << 20
		s = s[:len(s)-1]
	case strings.HasSuffix(upper, "K"):
		multiplier = 1 << 10
		s = s[:len(s)-1]
	}

	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, err
	}
	return n * multiplier, nil
}

// normalizeBasePath forces base_path to end with "/", per spec.md
// §4.2's URL construction rule.
func normalizeBasePath(p string) string {
	if p == "" {
		p = "/"
	}
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}

// expandHome expands a leading "~" to the user's home directory, per
// spec.md §6.
func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return p
		}
		if p == "~" {
			return home
		}
		return filepath.Join(home, p[2:])
	}
	return p
}
