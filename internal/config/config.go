package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Browser   BrowserConfig   `yaml:"browser"`
	Recording RecordingConfig `yaml:"recording"`
	Playback  PlaybackConfig  `yaml:"playback"`
	Reaper    ReaperConfig    `yaml:"reaper"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Port         string `yaml:"port"`
	Host         string `yaml:"host"`
	Mode         string `yaml:"mode"`
	ReadTimeout  int    `yaml:"read_timeout"`
	WriteTimeout int    `yaml:"write_timeout"`
}

type DatabaseConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	Charset  string `yaml:"charset"`
}

type BrowserConfig struct {
	Engine            string `yaml:"engine"`
	Headless          bool   `yaml:"headless"`
	ExecPath          string `yaml:"exec_path"`
	Device            string `yaml:"device"`
	LaunchTimeout     int    `yaml:"launch_timeout"`     // seconds
	NavigationTimeout int    `yaml:"navigation_timeout"` // seconds
	ActionTimeout     int    `yaml:"action_timeout"`     // seconds
}

type RecordingConfig struct {
	PollInterval   int    `yaml:"poll_interval"` // milliseconds
	EventBuffer    int    `yaml:"event_buffer"`
	ArtifactDir    string `yaml:"artifact_dir"`
	CodegenCommand string `yaml:"codegen_command"`
	MaskPasswords  bool   `yaml:"mask_passwords"`
}

type PlaybackConfig struct {
	SettleInterval int    `yaml:"settle_interval"` // milliseconds
	HighlightColor string `yaml:"highlight_color"`
}

type ReaperConfig struct {
	Spec    string `yaml:"spec"`
	IdleTTL int    `yaml:"idle_ttl"` // seconds; 0 disables the reaper
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         "8080",
			Host:         "0.0.0.0",
			Mode:         "debug",
			ReadTimeout:  30,
			WriteTimeout: 300,
		},
		Database: DatabaseConfig{
			Host:     "127.0.0.1",
			Port:     "3306",
			Username: "root",
			Password: "root",
			Database: "visual_automation",
			Charset:  "utf8mb4",
		},
		Browser: BrowserConfig{
			Engine:            "chromedp",
			LaunchTimeout:     30,
			NavigationTimeout: 30,
			ActionTimeout:     10,
		},
		Recording: RecordingConfig{
			PollInterval:  100,
			EventBuffer:   1000,
			ArtifactDir:   "recordings",
			MaskPasswords: true,
		},
		Playback: PlaybackConfig{
			SettleInterval: 500,
			HighlightColor: "#ff4081",
		},
		Reaper: ReaperConfig{
			Spec:    "0 */5 * * * *",
			IdleTTL: 1800,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadConfig applies defaults, then the YAML file named by CONFIG_FILE (if
// set), then environment variables.
func LoadConfig() (*Config, error) {
	config := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	s := &config.Server
	s.Port = getEnv("SERVER_PORT", s.Port)
	s.Host = getEnv("SERVER_HOST", s.Host)
	s.Mode = getEnv("SERVER_MODE", s.Mode)
	s.ReadTimeout = getEnvAsInt("SERVER_READ_TIMEOUT", s.ReadTimeout)
	s.WriteTimeout = getEnvAsInt("SERVER_WRITE_TIMEOUT", s.WriteTimeout)

	d := &config.Database
	d.Enabled = getEnvAsBool("DB_ENABLED", d.Enabled)
	d.Host = getEnv("DB_HOST", d.Host)
	d.Port = getEnv("DB_PORT", d.Port)
	d.Username = getEnv("DB_USERNAME", d.Username)
	d.Password = getEnv("DB_PASSWORD", d.Password)
	d.Database = getEnv("DB_NAME", d.Database)
	d.Charset = getEnv("DB_CHARSET", d.Charset)

	b := &config.Browser
	b.Engine = getEnv("BROWSER_ENGINE", b.Engine)
	b.Headless = getEnvAsBool("CHROME_HEADLESS", b.Headless)
	b.ExecPath = getEnv("CHROME_PATH", b.ExecPath)
	b.Device = getEnv("BROWSER_DEVICE", b.Device)
	b.LaunchTimeout = getEnvAsInt("BROWSER_LAUNCH_TIMEOUT", b.LaunchTimeout)
	b.NavigationTimeout = getEnvAsInt("BROWSER_NAVIGATION_TIMEOUT", b.NavigationTimeout)
	b.ActionTimeout = getEnvAsInt("BROWSER_ACTION_TIMEOUT", b.ActionTimeout)

	r := &config.Recording
	r.PollInterval = getEnvAsInt("RECORDING_POLL_INTERVAL", r.PollInterval)
	r.EventBuffer = getEnvAsInt("RECORDING_EVENT_BUFFER", r.EventBuffer)
	r.ArtifactDir = getEnv("RECORDING_ARTIFACT_DIR", r.ArtifactDir)
	r.CodegenCommand = getEnv("RECORDING_CODEGEN_COMMAND", r.CodegenCommand)
	r.MaskPasswords = getEnvAsBool("RECORDING_MASK_PASSWORDS", r.MaskPasswords)

	p := &config.Playback
	p.SettleInterval = getEnvAsInt("PLAYBACK_SETTLE_INTERVAL", p.SettleInterval)
	p.HighlightColor = getEnv("PLAYBACK_HIGHLIGHT_COLOR", p.HighlightColor)

	config.Reaper.Spec = getEnv("REAPER_SPEC", config.Reaper.Spec)
	config.Reaper.IdleTTL = getEnvAsInt("REAPER_IDLE_TTL", config.Reaper.IdleTTL)

	config.Log.Level = getEnv("LOG_LEVEL", config.Log.Level)
	config.Log.Format = getEnv("LOG_FORMAT", config.Log.Format)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) Validate() error {
	switch c.Browser.Engine {
	case "chromedp", "playwright":
	default:
		return fmt.Errorf("invalid browser engine %q (want chromedp or playwright)", c.Browser.Engine)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid log format %q (want json or console)", c.Log.Format)
	}
	if c.Recording.ArtifactDir == "" {
		return fmt.Errorf("recording artifact dir must not be empty")
	}
	return nil
}

func (c *Config) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=%s&parseTime=True&loc=Local",
		c.Database.Username,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
		c.Database.Charset,
	)
}

func (c *Config) Addr() string {
	return c.Server.Host + ":" + c.Server.Port
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }
func milliseconds(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func (b BrowserConfig) Launch() time.Duration { return seconds(b.LaunchTimeout) }
func (b BrowserConfig) Navigation() time.Duration { return seconds(b.NavigationTimeout) }
func (b BrowserConfig) Action() time.Duration { return seconds(b.ActionTimeout) }

func (r RecordingConfig) Poll() time.Duration { return milliseconds(r.PollInterval) }
func (p PlaybackConfig) Settle() time.Duration { return milliseconds(p.SettleInterval) }
func (r ReaperConfig) TTL() time.Duration { return seconds(r.IdleTTL) }
func (s ServerConfig) Read() time.Duration { return seconds(s.ReadTimeout) }
func (s ServerConfig) Write() time.Duration { return seconds(s.WriteTimeout) }

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
