package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Load reads a Config from the process environment. It applies the
// defaults from SPEC_FULL.md §6 and returns a validation error if
// P2P_ENABLED is true but a required path is missing.
func Load() (*Config, error) {
	rendezvous := os.Getenv("P2P_RENDEZVOUS")
	if rendezvous == "" {
		rendezvous = DefaultRendezvous
	}

	cfg := &Config{
		Enabled:             boolEnv("P2P_ENABLED", false),
		BlobsDir:            os.Getenv("P2P_BLOBS_DIR"),
		SecretKeyPath:       os.Getenv("P2P_SECRET_KEY_PATH"),
		SecretKeyPassphrase: os.Getenv("P2P_SECRET_KEY_PASSPHRASE"),
		LocalDiscovery:      boolEnv("P2P_LOCAL_DISCOVERY", true),
		DHTDiscovery:        boolEnv("P2P_DHT_DISCOVERY", true),
		Rendezvous:          rendezvous,
		SeedPeers:           splitSeedPeers(os.Getenv("P2P_SEED_PEERS")),
		SweepInterval:       DefaultSweepInterval,
		SearchDeadline:      DefaultSearchDeadline,
	}

	portKey := "P2P_PORT"
	if os.Getenv(portKey) == "" && os.Getenv("P2P_BIND_PORT") != "" {
		portKey = "P2P_BIND_PORT"
	}
	port, err := intEnv(portKey, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPort, err)
	}
	if port < 0 || port > 65535 {
		return nil, ErrInvalidPort
	}
	cfg.Port = port

	cacheSize := os.Getenv("P2P_CACHE_MAX_SIZE")
	if cacheSize == "" {
		cfg.CacheMaxSizeBytes = DefaultCacheMaxSizeBytes
	} else {
		size, err := ParseDataSize(cacheSize)
		if err != nil {
			return nil, fmt.Errorf("P2P_CACHE_MAX_SIZE: %w", err)
		}
		cfg.CacheMaxSizeBytes = size
	}

	if !cfg.Enabled {
		return cfg, nil
	}
	if cfg.BlobsDir == "" {
		return nil, ErrMissingBlobsDir
	}
	if cfg.SecretKeyPath == "" {
		return nil, ErrMissingSecretKeyPath
	}
	if err := checkConfigFilePermissions(cfg.SecretKeyPath); err != nil {
		return nil, err
	}
	return cfg, nil
}

func boolEnv(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return n, nil
}

func splitSeedPeers(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// checkConfigFilePermissions returns an error if a sensitive on-disk file (the
// identity secret, cached credentials) has overly permissive mode bits.
// Adapted from the same check applied to the node's key file.
func checkConfigFilePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return nil
	}
	mode := info.Mode().Perm()
	if mode&0077 != 0 {
		return fmt.Errorf("file %s has overly permissive mode %04o; expected 0600 — fix with: chmod 600 %s", path, mode, path)
	}
	return nil
}

// ParseDataSize parses a human-readable data size string (e.g., "128KB",
// "64MB", "1GB") and returns the value in bytes. Supported suffixes: B,
// KB, MB, GB (case-insensitive). A bare integer is treated as raw bytes.
func ParseDataSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty data size")
	}

	s = strings.ToUpper(s)
	var multiplier int64 = 1
	var numStr string

	switch {
	case strings.HasSuffix(s, "GB"):
		multiplier = 1024 * 1024 * 1024
		numStr = strings.TrimSuffix(s, "GB")
	case strings.HasSuffix(s, "MB"):
		multiplier = 1024 * 1024
		numStr = strings.TrimSuffix(s, "MB")
	case strings.HasSuffix(s, "KB"):
		multiplier = 1024
		numStr = strings.TrimSuffix(s, "KB")
	case strings.HasSuffix(s, "B"):
		numStr = strings.TrimSuffix(s, "B")
	default:
		numStr = s
	}

	numStr = strings.TrimSpace(numStr)
	val, err := strconv.ParseInt(numStr, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid data size %q: %w", s, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("data size must be non-negative: %s", s)
	}
	return val * multiplier, nil
}
