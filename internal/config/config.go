// Package config resolves codewatch observer settings.
//
// Settings are resolved once per configuration change into an immutable
// Settings snapshot: built-in defaults first, then each override layer in
// listed order (later layers win per field), then environment overrides,
// then normalization. Resolution never fails the host session: out-of-range
// values are clamped with a logged warning.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"codewatch/internal/logging"
)

// Trigger names accepted in the proactiveTriggers list.
const (
	TriggerOnError       = "onError"
	TriggerOnWarning     = "onWarning"
	TriggerOnGitConflict = "onGitConflict"
)

// ProactiveTriggers is the set of event-driven triggers the observer reacts to.
type ProactiveTriggers struct {
	OnError       bool
	OnWarning     bool
	OnGitConflict bool
}

// ContextLimits bounds the observation window sampled per cycle.
type ContextLimits struct {
	LinesBefore        int  `yaml:"linesBefore" json:"linesBefore"`
	LinesAfter         int  `yaml:"linesAfter" json:"linesAfter"`
	IncludeImports     bool `yaml:"includeImports" json:"includeImports"`
	IncludeDiagnostics bool `yaml:"includeDiagnostics" json:"includeDiagnostics"`
}

// ProviderConfig selects the model-provider backend.
type ProviderConfig struct {
	Name    string `yaml:"name" json:"name"` // openai, gemini, mock
	APIKey  string `yaml:"apiKey" json:"apiKey"`
	BaseURL string `yaml:"baseUrl" json:"baseUrl"`
	Timeout string `yaml:"timeout" json:"timeout"`
}

// LoggingConfig configures the category file logger.
type LoggingConfig struct {
	DebugMode bool   `yaml:"debugMode" json:"debugMode"`
	Level     string `yaml:"level" json:"level"`
}

// Settings is the effective, immutable configuration snapshot for one
// observer session. Built by Resolve; never mutated in place, a new
// snapshot replaces the old one atomically.
type Settings struct {
	Enabled           bool
	IntervalSeconds   uint64
	ModelID           string
	VoiceEnabled      bool
	MinConfidence     float64
	ProactiveTriggers ProactiveTriggers
	ContextLimits     ContextLimits

	// ContextCharLimit caps the serialized observation size.
	ContextCharLimit int

	// Decision cache policy.
	CacheTTLSeconds int
	CacheCapacity   int

	// Duplicate-suppression window for emitted suggestions.
	CooldownSeconds int

	// StalenessCheck suppresses dispatch when the live session has changed
	// since the cycle sampled its context. Policy choice, off by default.
	StalenessCheck bool

	// HistoryPath, when set, persists suggestion history to SQLite so the
	// cooldown window survives restarts.
	HistoryPath string

	Provider ProviderConfig
	Logging  LoggingConfig
}

// Layer is one override layer. Pointer fields distinguish "not set" from
// zero values so merging is field-level, never whole-object replacement.
// Unknown fields in the source document are ignored.
type Layer struct {
	Enabled           *bool           `yaml:"enabled" json:"enabled"`
	IntervalSeconds   *uint64         `yaml:"intervalSeconds" json:"intervalSeconds"`
	ModelID           *string         `yaml:"modelId" json:"modelId"`
	VoiceEnabled      *bool           `yaml:"voiceEnabled" json:"voiceEnabled"`
	MinConfidence     *float64        `yaml:"minConfidence" json:"minConfidence"`
	ProactiveTriggers *[]string       `yaml:"proactiveTriggers" json:"proactiveTriggers"`
	ContextLimits     *ContextLimits  `yaml:"contextLimits" json:"contextLimits"`
	ContextCharLimit  *int            `yaml:"contextCharLimit" json:"contextCharLimit"`
	CacheTTLSeconds   *int            `yaml:"cacheTtlSeconds" json:"cacheTtlSeconds"`
	CacheCapacity     *int            `yaml:"cacheCapacity" json:"cacheCapacity"`
	CooldownSeconds   *int            `yaml:"cooldownSeconds" json:"cooldownSeconds"`
	StalenessCheck    *bool           `yaml:"stalenessCheck" json:"stalenessCheck"`
	HistoryPath       *string         `yaml:"historyPath" json:"historyPath"`
	Provider          *ProviderConfig `yaml:"provider" json:"provider"`
	Logging           *LoggingConfig  `yaml:"logging" json:"logging"`
}

// fileConfig is the persisted document shape: everything lives under the
// top-level observerMode key.
type fileConfig struct {
	ObserverMode Layer `yaml:"observerMode" json:"observerMode"`
}

// DefaultSettings returns the built-in defaults.
func DefaultSettings() Settings {
	return Settings{
		Enabled:         true,
		IntervalSeconds: 30,
		ModelID:         "gpt-4o-mini",
		VoiceEnabled:    false,
		MinConfidence:   0.7,
		ProactiveTriggers: ProactiveTriggers{
			OnError:       true,
			OnWarning:     false,
			OnGitConflict: true,
		},
		ContextLimits: ContextLimits{
			LinesBefore:        20,
			LinesAfter:         20,
			IncludeImports:     true,
			IncludeDiagnostics: true,
		},
		ContextCharLimit: 4000,
		CacheTTLSeconds:  90, // 3x the default interval
		CacheCapacity:    32,
		CooldownSeconds:  300,
		Provider: ProviderConfig{
			Name:    "openai",
			BaseURL: "https://api.openai.com/v1",
			Timeout: "30s",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadLayer reads one override layer from a YAML or JSON file.
// A missing file yields an empty layer, not an error.
func LoadLayer(path string) (Layer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Layer{}, nil
		}
		return Layer{}, fmt.Errorf("failed to read config: %w", err)
	}

	var cf fileConfig
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return Layer{}, fmt.Errorf("failed to parse config: %w", err)
	}
	return cf.ObserverMode, nil
}

// Resolve merges defaults with override layers into one effective snapshot.
// Later layers win per field. Environment overrides apply last, then the
// result is normalized.
func Resolve(layers ...Layer) Settings {
	s := DefaultSettings()
	for _, l := range layers {
		s.apply(l)
	}
	s.applyEnvOverrides()
	s.normalize()
	return s
}

func (s *Settings) apply(l Layer) {
	if l.Enabled != nil {
		s.Enabled = *l.Enabled
	}
	if l.IntervalSeconds != nil {
		s.IntervalSeconds = *l.IntervalSeconds
	}
	if l.ModelID != nil {
		s.ModelID = *l.ModelID
	}
	if l.VoiceEnabled != nil {
		s.VoiceEnabled = *l.VoiceEnabled
	}
	if l.MinConfidence != nil {
		s.MinConfidence = *l.MinConfidence
	}
	if l.ProactiveTriggers != nil {
		s.ProactiveTriggers = parseTriggers(*l.ProactiveTriggers)
	}
	if l.ContextLimits != nil {
		s.ContextLimits = *l.ContextLimits
	}
	if l.ContextCharLimit != nil {
		s.ContextCharLimit = *l.ContextCharLimit
	}
	if l.CacheTTLSeconds != nil {
		s.CacheTTLSeconds = *l.CacheTTLSeconds
	}
	if l.CacheCapacity != nil {
		s.CacheCapacity = *l.CacheCapacity
	}
	if l.CooldownSeconds != nil {
		s.CooldownSeconds = *l.CooldownSeconds
	}
	if l.StalenessCheck != nil {
		s.StalenessCheck = *l.StalenessCheck
	}
	if l.HistoryPath != nil {
		s.HistoryPath = *l.HistoryPath
	}
	if l.Provider != nil {
		// The provider block overrides field-by-field as well.
		if l.Provider.Name != "" {
			s.Provider.Name = l.Provider.Name
		}
		if l.Provider.APIKey != "" {
			s.Provider.APIKey = l.Provider.APIKey
		}
		if l.Provider.BaseURL != "" {
			s.Provider.BaseURL = l.Provider.BaseURL
		}
		if l.Provider.Timeout != "" {
			s.Provider.Timeout = l.Provider.Timeout
		}
	}
	if l.Logging != nil {
		s.Logging = *l.Logging
	}
}

func parseTriggers(names []string) ProactiveTriggers {
	var t ProactiveTriggers
	for _, n := range names {
		switch n {
		case TriggerOnError:
			t.OnError = true
		case TriggerOnWarning:
			t.OnWarning = true
		case TriggerOnGitConflict:
			t.OnGitConflict = true
		default:
			logging.Get(logging.CategoryConfig).Warn("unknown proactive trigger %q ignored", n)
		}
	}
	return t
}

// applyEnvOverrides applies environment variable overrides.
func (s *Settings) applyEnvOverrides() {
	if key := os.Getenv("CODEWATCH_API_KEY"); key != "" {
		s.Provider.APIKey = key
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && s.Provider.APIKey == "" {
		s.Provider.APIKey = key
		if s.Provider.Name == "" {
			s.Provider.Name = "openai"
		}
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" && s.Provider.APIKey == "" {
		s.Provider.APIKey = key
		s.Provider.Name = "gemini"
	}
	if model := os.Getenv("CODEWATCH_MODEL"); model != "" {
		s.ModelID = model
	}
}

// normalize clamps out-of-range values. Never fatal.
func (s *Settings) normalize() {
	warn := logging.Get(logging.CategoryConfig)

	if s.MinConfidence < 0 {
		warn.Warn("minConfidence %v below 0, clamped", s.MinConfidence)
		s.MinConfidence = 0
	}
	if s.MinConfidence > 1 {
		warn.Warn("minConfidence %v above 1, clamped", s.MinConfidence)
		s.MinConfidence = 1
	}
	if s.IntervalSeconds < 1 {
		warn.Warn("intervalSeconds %d non-positive, floored at 1", s.IntervalSeconds)
		s.IntervalSeconds = 1
	}
	if s.ContextLimits.LinesBefore < 0 {
		s.ContextLimits.LinesBefore = 0
	}
	if s.ContextLimits.LinesAfter < 0 {
		s.ContextLimits.LinesAfter = 0
	}
	if s.ContextCharLimit <= 0 {
		s.ContextCharLimit = 4000
	}
	if s.CacheCapacity <= 0 {
		s.CacheCapacity = 32
	}
	if s.CacheTTLSeconds <= 0 {
		s.CacheTTLSeconds = int(s.IntervalSeconds) * 3
	}
	if s.CooldownSeconds <= 0 {
		s.CooldownSeconds = 300
	}
}

// Interval returns the timer interval as a duration.
func (s Settings) Interval() time.Duration {
	return time.Duration(s.IntervalSeconds) * time.Second
}

// CacheTTL returns the decision cache TTL as a duration.
func (s Settings) CacheTTL() time.Duration {
	return time.Duration(s.CacheTTLSeconds) * time.Second
}

// Cooldown returns the duplicate-suppression window as a duration.
func (s Settings) Cooldown() time.Duration {
	return time.Duration(s.CooldownSeconds) * time.Second
}

// ProviderTimeout returns the provider call timeout as a duration.
func (s Settings) ProviderTimeout() time.Duration {
	d, err := time.ParseDuration(s.Provider.Timeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}
