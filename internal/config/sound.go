package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultConfigPath is the path to the canonical defaults file.
const DefaultConfigPath = "config/sound.defaults.json"

// Defaults used when a field is omitted.
const (
	DefaultServerIP           = "127.0.0.1"
	DefaultServerPort         = 57120
	DefaultStatusPort         = 57110
	DefaultNotifyPort         = 8001
	DefaultTransport          = "udp"
	DefaultSerialBaud         = 115200
	DefaultStartupTimeoutSecs = 5.0
	DefaultProbeInterval      = 100 * time.Millisecond
	DefaultSoundLoadWaitMs    = 200
	DefaultPollInterval       = 10 * time.Millisecond
	DefaultRadius             = 10000.0
	DefaultVolumeScale        = 0.5
	DefaultServerVolume       = -16
	DefaultStereoTestSound    = "stereoTestSound.wav"
	DefaultMonoTestSound      = "monoTestSound.wav"

	MinServerVolume = -30
	MaxServerVolume = 8
)

// SoundConfig is the startup configuration of the control layer. Every field
// is optional; the Get* accessors supply defaults.
type SoundConfig struct {
	// Engine connection
	ServerIP   *string `json:"server_ip,omitempty"`
	ServerPort *int    `json:"server_port,omitempty"`
	StatusPort *int    `json:"status_port,omitempty"`
	NotifyPort *int    `json:"notify_port,omitempty"`
	Transport  *string `json:"transport,omitempty"` // "udp" or "serial"
	SerialPort *string `json:"serial_port,omitempty"`
	SerialBaud *int    `json:"serial_baud,omitempty"`

	// Startup and polling
	StartupTimeoutSecs *float64 `json:"startup_timeout_secs,omitempty"`
	ProbeInterval      *string  `json:"probe_interval,omitempty"` // duration string like "100ms"
	SoundLoadWaitMs    *int     `json:"sound_load_wait_ms,omitempty"`
	PollInterval       *string  `json:"poll_interval,omitempty"`

	// Environment
	Radius       *float64 `json:"radius,omitempty"`
	VolumeScale  *float64 `json:"volume_scale,omitempty"`
	RoomSize     *float64 `json:"room_size,omitempty"`
	Wetness      *float64 `json:"wetness,omitempty"`
	ServerVolume *int     `json:"server_volume,omitempty"`

	// Assets
	AssetDirectory    *string  `json:"asset_directory,omitempty"`
	AssetSearchPaths  []string `json:"asset_search_paths,omitempty"`
	AssetCacheEnabled *bool    `json:"asset_cache_enabled,omitempty"`
	StereoTestSound   *string  `json:"stereo_test_sound,omitempty"`
	MonoTestSound     *string  `json:"mono_test_sound,omitempty"`

	JournalPath *string `json:"journal_path,omitempty"`
	Debug       *bool   `json:"debug,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptySoundConfig returns a config with every field unset.
func EmptySoundConfig() *SoundConfig {
	return &SoundConfig{}
}

// DefaultSoundConfig returns a config with every field set to its default.
func DefaultSoundConfig() *SoundConfig {
	return &SoundConfig{
		ServerIP:           ptrString(DefaultServerIP),
		ServerPort:         ptrInt(DefaultServerPort),
		StatusPort:         ptrInt(DefaultStatusPort),
		NotifyPort:         ptrInt(DefaultNotifyPort),
		Transport:          ptrString(DefaultTransport),
		SerialBaud:         ptrInt(DefaultSerialBaud),
		StartupTimeoutSecs: ptrFloat64(DefaultStartupTimeoutSecs),
		ProbeInterval:      ptrString(DefaultProbeInterval.String()),
		SoundLoadWaitMs:    ptrInt(DefaultSoundLoadWaitMs),
		PollInterval:       ptrString(DefaultPollInterval.String()),
		Radius:             ptrFloat64(DefaultRadius),
		VolumeScale:        ptrFloat64(DefaultVolumeScale),
		RoomSize:           ptrFloat64(0),
		Wetness:            ptrFloat64(0),
		ServerVolume:       ptrInt(DefaultServerVolume),
		AssetCacheEnabled:  ptrBool(false),
		StereoTestSound:    ptrString(DefaultStereoTestSound),
		MonoTestSound:      ptrString(DefaultMonoTestSound),
		Debug:              ptrBool(false),
	}
}

// LoadSoundConfig loads a SoundConfig from a JSON file. The file must have a
// .json extension and be under 1MB. Omitted fields keep their defaults.
func LoadSoundConfig(path string) (*SoundConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptySoundConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath from the current directory or
// a parent. Panics if it cannot be found; intended for tests.
func MustLoadDefaultConfig() *SoundConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadSoundConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

func validPort(name string, p *int) error {
	if p != nil && (*p < 0 || *p > 65535) {
		return fmt.Errorf("%s must be between 0 and 65535, got %d", name, *p)
	}
	return nil
}

func validDuration(name string, s *string) error {
	if s == nil || *s == "" {
		return nil
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return fmt.Errorf("invalid %s '%s': %w", name, *s, err)
	}
	if d <= 0 {
		return fmt.Errorf("%s must be positive, got %s", name, *s)
	}
	return nil
}

// Validate checks that set values are usable.
func (c *SoundConfig) Validate() error {
	for _, p := range []struct {
		name string
		v    *int
	}{{"server_port", c.ServerPort}, {"status_port", c.StatusPort}, {"notify_port", c.NotifyPort}} {
		if err := validPort(p.name, p.v); err != nil {
			return err
		}
	}

	if c.Transport != nil {
		switch *c.Transport {
		case "udp":
		case "serial":
			if c.SerialPort == nil || *c.SerialPort == "" {
				return fmt.Errorf("serial transport requires serial_port")
			}
		default:
			return fmt.Errorf("transport must be \"udp\" or \"serial\", got %q", *c.Transport)
		}
	}

	if c.StartupTimeoutSecs != nil && *c.StartupTimeoutSecs < 0 {
		return fmt.Errorf("startup_timeout_secs must be non-negative, got %f", *c.StartupTimeoutSecs)
	}
	if err := validDuration("probe_interval", c.ProbeInterval); err != nil {
		return err
	}
	if err := validDuration("poll_interval", c.PollInterval); err != nil {
		return err
	}
	if c.SoundLoadWaitMs != nil && *c.SoundLoadWaitMs < 0 {
		return fmt.Errorf("sound_load_wait_ms must be non-negative, got %d", *c.SoundLoadWaitMs)
	}
	if c.Radius != nil && *c.Radius <= 0 {
		return fmt.Errorf("radius must be positive, got %f", *c.Radius)
	}
	if c.VolumeScale != nil && *c.VolumeScale < 0 {
		return fmt.Errorf("volume_scale must be non-negative, got %f", *c.VolumeScale)
	}
	if c.RoomSize != nil && *c.RoomSize < 0 {
		return fmt.Errorf("room_size must be non-negative, got %f", *c.RoomSize)
	}
	if c.Wetness != nil && *c.Wetness < 0 {
		return fmt.Errorf("wetness must be non-negative, got %f", *c.Wetness)
	}
	return nil
}

// GetServerIP returns the engine host or the default.
func (c *SoundConfig) GetServerIP() string {
	if c.ServerIP == nil || strings.TrimSpace(*c.ServerIP) == "" {
		return DefaultServerIP
	}
	return *c.ServerIP
}

func (c *SoundConfig) GetServerPort() int {
	if c.ServerPort == nil || *c.ServerPort == 0 {
		return DefaultServerPort
	}
	return *c.ServerPort
}

func (c *SoundConfig) GetStatusPort() int {
	if c.StatusPort == nil || *c.StatusPort == 0 {
		return DefaultStatusPort
	}
	return *c.StatusPort
}

func (c *SoundConfig) GetNotifyPort() int {
	if c.NotifyPort == nil {
		return DefaultNotifyPort
	}
	return *c.NotifyPort
}

func (c *SoundConfig) GetTransport() string {
	if c.Transport == nil || *c.Transport == "" {
		return DefaultTransport
	}
	return *c.Transport
}

func (c *SoundConfig) GetSerialPort() string {
	if c.SerialPort == nil {
		return ""
	}
	return *c.SerialPort
}

func (c *SoundConfig) GetSerialBaud() int {
	if c.SerialBaud == nil || *c.SerialBaud <= 0 {
		return DefaultSerialBaud
	}
	return *c.SerialBaud
}

// GetStartupTimeout converts startup_timeout_secs to a duration with
// millisecond resolution.
func (c *SoundConfig) GetStartupTimeout() time.Duration {
	secs := DefaultStartupTimeoutSecs
	if c.StartupTimeoutSecs != nil {
		secs = *c.StartupTimeoutSecs
	}
	return time.Duration(int64(secs*1000)) * time.Millisecond
}

func parseDurationOr(s *string, def time.Duration) time.Duration {
	if s == nil || *s == "" {
		return def
	}
	d, err := time.ParseDuration(*s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func (c *SoundConfig) GetProbeInterval() time.Duration {
	return parseDurationOr(c.ProbeInterval, DefaultProbeInterval)
}

func (c *SoundConfig) GetPollInterval() time.Duration {
	return parseDurationOr(c.PollInterval, DefaultPollInterval)
}

// GetSoundLoadWait returns how long to wait after asking the engine to load
// a buffer.
func (c *SoundConfig) GetSoundLoadWait() time.Duration {
	ms := DefaultSoundLoadWaitMs
	if c.SoundLoadWaitMs != nil {
		ms = *c.SoundLoadWaitMs
	}
	return time.Duration(ms) * time.Millisecond
}

func (c *SoundConfig) GetRadius() float64 {
	if c.Radius == nil {
		return DefaultRadius
	}
	return *c.Radius
}

func (c *SoundConfig) GetVolumeScale() float64 {
	if c.VolumeScale == nil {
		return DefaultVolumeScale
	}
	return *c.VolumeScale
}

func (c *SoundConfig) GetRoomSize() float64 {
	if c.RoomSize == nil {
		return 0
	}
	return *c.RoomSize
}

func (c *SoundConfig) GetWetness() float64 {
	if c.Wetness == nil {
		return 0
	}
	return *c.Wetness
}

// GetServerVolume returns the master volume clamped to the engine's range.
func (c *SoundConfig) GetServerVolume() int {
	v := DefaultServerVolume
	if c.ServerVolume != nil {
		v = *c.ServerVolume
	}
	return ClampServerVolume(v)
}

// ClampServerVolume limits v to [MinServerVolume, MaxServerVolume].
func ClampServerVolume(v int) int {
	if v < MinServerVolume {
		return MinServerVolume
	}
	if v > MaxServerVolume {
		return MaxServerVolume
	}
	return v
}

func (c *SoundConfig) GetAssetDirectory() string {
	if c.AssetDirectory == nil {
		return ""
	}
	return *c.AssetDirectory
}

func (c *SoundConfig) GetAssetCacheEnabled() bool {
	return c.AssetCacheEnabled != nil && *c.AssetCacheEnabled
}

func (c *SoundConfig) GetStereoTestSound() string {
	if c.StereoTestSound == nil {
		return DefaultStereoTestSound
	}
	return *c.StereoTestSound
}

func (c *SoundConfig) GetMonoTestSound() string {
	if c.MonoTestSound == nil {
		return DefaultMonoTestSound
	}
	return *c.MonoTestSound
}

func (c *SoundConfig) GetJournalPath() string {
	if c.JournalPath == nil {
		return ""
	}
	return *c.JournalPath
}

func (c *SoundConfig) GetDebug() bool {
	return c.Debug != nil && *c.Debug
}
