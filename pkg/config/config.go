// Package config holds environment-sourced settings with secure defaults.
// Every variable is prefixed L0_ and lowercase names mirror the exported
// fields, e.g. L0_REGEX_TIMEOUT_MS -> RegexTimeoutMs.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Settings is the full configuration surface of the scanner and its boundary.
type Settings struct {
	// Regex engine
	RegexTimeoutMs int    // per-rule execution budget for backtracking engines
	RegexEngine    string // "linear", "pcre", or "std"; first engine that compiles wins

	// Scanner
	StopOnFirstMatch        bool
	EnsembleScoring         bool
	EnsembleThresholdReject float64
	EnsembleThresholdWarn   float64

	// Prefilter
	PrefilterKeywords  string // comma-separated legacy keyword set
	PrefilterEnabled   bool
	BloomCapacity      int
	BloomErrorRate     float64

	// Normalization
	DisableNormalizationSteps string // comma-separated stage names
	NormalizationEnabled      bool

	// Code detection
	CodeDetectionEnabled    bool
	CodeConfidenceThreshold float64

	// Datasets
	DatasetHMACSecret string
	DatasetPath       string
	DatasetWatch      bool // reload on file changes under DatasetPath
	AllowlistedHashes string

	// Fail policy: false = fail-closed (deny on internal error)
	FailOpen bool

	// Observability
	MetricsEnabled bool
	LogLevel       string
	LogFormat      string // "json" or "text"

	// API boundary
	APIHost string
	APIPort int
	APIKey  string

	// Performance
	MaxInputLength           int
	MaxChunks                int
	ChunkProcessingTimeoutMs int
	ScanWorkers              int
}

// Default returns the secure defaults used when no environment is present.
func Default() Settings {
	return Settings{
		RegexTimeoutMs:            100,
		RegexEngine:               "linear",
		StopOnFirstMatch:          true,
		EnsembleScoring:           false,
		EnsembleThresholdReject:   0.95,
		EnsembleThresholdWarn:     0.7,
		PrefilterKeywords:         "ignore,override,jailbreak,system,prompt,instructions",
		PrefilterEnabled:          true,
		BloomCapacity:             100000,
		BloomErrorRate:            0.001,
		DisableNormalizationSteps: "",
		NormalizationEnabled:      true,
		CodeDetectionEnabled:      true,
		CodeConfidenceThreshold:   0.7,
		DatasetHMACSecret:         "change-me-in-production",
		DatasetPath:               "datasets",
		DatasetWatch:              false,
		FailOpen:                  false,
		MetricsEnabled:            true,
		LogLevel:                  "info",
		LogFormat:                 "json",
		APIHost:                   "0.0.0.0",
		APIPort:                   8000,
		MaxInputLength:            100000,
		MaxChunks:                 1000,
		ChunkProcessingTimeoutMs:  5000,
		ScanWorkers:               4,
	}
}

// FromEnv builds Settings from the process environment on top of Default.
func FromEnv() Settings {
	s := Default()
	s.RegexTimeoutMs = envInt("L0_REGEX_TIMEOUT_MS", s.RegexTimeoutMs)
	s.RegexEngine = envString("L0_REGEX_ENGINE", s.RegexEngine)
	s.StopOnFirstMatch = envBool("L0_STOP_ON_FIRST_MATCH", s.StopOnFirstMatch)
	s.EnsembleScoring = envBool("L0_ENSEMBLE_SCORING", s.EnsembleScoring)
	s.EnsembleThresholdReject = envFloat("L0_ENSEMBLE_THRESHOLD_REJECT", s.EnsembleThresholdReject)
	s.EnsembleThresholdWarn = envFloat("L0_ENSEMBLE_THRESHOLD_WARN", s.EnsembleThresholdWarn)
	s.PrefilterKeywords = envString("L0_PREFILTER_KEYWORDS", s.PrefilterKeywords)
	s.PrefilterEnabled = envBool("L0_PREFILTER_ENABLED", s.PrefilterEnabled)
	s.BloomCapacity = envInt("L0_BLOOM_CAPACITY", s.BloomCapacity)
	s.BloomErrorRate = envFloat("L0_BLOOM_ERROR_RATE", s.BloomErrorRate)
	s.DisableNormalizationSteps = envString("L0_DISABLE_NORMALIZATION_STEPS", s.DisableNormalizationSteps)
	s.NormalizationEnabled = envBool("L0_NORMALIZATION_ENABLED", s.NormalizationEnabled)
	s.CodeDetectionEnabled = envBool("L0_CODE_DETECTION_ENABLED", s.CodeDetectionEnabled)
	s.CodeConfidenceThreshold = envFloat("L0_CODE_CONFIDENCE_THRESHOLD", s.CodeConfidenceThreshold)
	s.DatasetHMACSecret = envString("L0_DATASET_HMAC_SECRET", s.DatasetHMACSecret)
	s.DatasetPath = envString("L0_DATASET_PATH", s.DatasetPath)
	s.DatasetWatch = envBool("L0_DATASET_WATCH", s.DatasetWatch)
	s.AllowlistedHashes = envString("L0_ALLOWLISTED_HASHES", s.AllowlistedHashes)
	s.FailOpen = envBool("L0_FAIL_OPEN", s.FailOpen)
	s.MetricsEnabled = envBool("L0_METRICS_ENABLED", s.MetricsEnabled)
	s.LogLevel = envString("L0_LOG_LEVEL", s.LogLevel)
	s.LogFormat = envString("L0_LOG_FORMAT", s.LogFormat)
	s.APIHost = envString("L0_API_HOST", s.APIHost)
	s.APIPort = envInt("L0_API_PORT", s.APIPort)
	s.APIKey = envString("L0_API_KEY", s.APIKey)
	s.MaxInputLength = envInt("L0_MAX_INPUT_LENGTH", s.MaxInputLength)
	s.MaxChunks = envInt("L0_MAX_CHUNKS", s.MaxChunks)
	s.ChunkProcessingTimeoutMs = envInt("L0_CHUNK_PROCESSING_TIMEOUT_MS", s.ChunkProcessingTimeoutMs)
	s.ScanWorkers = envInt("L0_SCAN_WORKERS", s.ScanWorkers)
	if s.ScanWorkers < 1 {
		s.ScanWorkers = 1
	}
	return s
}

// RegexTimeout is RegexTimeoutMs as a duration.
func (s Settings) RegexTimeout() time.Duration {
	return time.Duration(s.RegexTimeoutMs) * time.Millisecond
}

// ChunkProcessingTimeout is the end-to-end soft budget for one scan.
func (s Settings) ChunkProcessingTimeout() time.Duration {
	return time.Duration(s.ChunkProcessingTimeoutMs) * time.Millisecond
}

// PrefilterKeywordList splits the legacy keyword set, trimmed and lowercased.
func (s Settings) PrefilterKeywordList() []string {
	return splitList(s.PrefilterKeywords, true)
}

// DisabledNormalizationSteps returns the stage names disabled by config.
func (s Settings) DisabledNormalizationSteps() []string {
	return splitList(s.DisableNormalizationSteps, false)
}

// AllowlistedHashList returns the allowlisted content hashes.
func (s Settings) AllowlistedHashList() []string {
	return splitList(s.AllowlistedHashes, false)
}

func splitList(raw string, lower bool) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if lower {
			p = strings.ToLower(p)
		}
		out = append(out, p)
	}
	return out
}

func envString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return def
}
