package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`

	// Signaling endpoints. SignalURL skips the media-routing lookup when set.
	LookupURL string `mapstructure:"lookup_url"`
	SignalURL string `mapstructure:"signal_url"`

	ConnectTimeout      time.Duration `mapstructure:"connect_timeout"`
	RequestTimeout      time.Duration `mapstructure:"request_timeout"`
	DebugConnectTimeout time.Duration `mapstructure:"debug_connect_timeout"`
	DebugRequestTimeout time.Duration `mapstructure:"debug_request_timeout"`

	MailboxSize int `mapstructure:"mailbox_size"`
	EventBuffer int `mapstructure:"event_buffer"`
	SendBuffer  int `mapstructure:"send_buffer"`

	ChatLimit    int           `mapstructure:"chat_limit"`
	ChatInterval time.Duration `mapstructure:"chat_interval"`

	ICEServers  []string `mapstructure:"ice_servers"`
	CORSOrigins []string `mapstructure:"cors_origins"`

	UserID   string `mapstructure:"user_id"`
	UserName string `mapstructure:"user_name"`
	RoomID   string `mapstructure:"room_id"`
}

// Debug reports whether the client runs in a development build.
func (c *Config) Debug() bool { return c.Mode == "debug" }

// Timeouts returns the connect and request deadlines for the current mode.
// Debug builds wait longer.
func (c *Config) Timeouts() (connect, request time.Duration) {
	if c.Debug() {
		return c.DebugConnectTimeout, c.DebugRequestTimeout
	}
	return c.ConnectTimeout, c.RequestTimeout
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	setDefaults(v)

	v.SetEnvPrefix("COSTUDY")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	fmt.Printf("🧩 Mode: %s | Port: %d | Room: %s\n", cfg.Mode, cfg.Port, cfg.RoomID)
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8090)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 65536)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("lookup_url", "http://localhost:8080")
	v.SetDefault("connect_timeout", "10s")
	v.SetDefault("request_timeout", "10s")
	v.SetDefault("debug_connect_timeout", "20s")
	v.SetDefault("debug_request_timeout", "20s")
	v.SetDefault("mailbox_size", 64)
	v.SetDefault("event_buffer", 8)
	v.SetDefault("send_buffer", 32)
	v.SetDefault("chat_limit", 5)
	v.SetDefault("chat_interval", "3s")
	v.SetDefault("ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("user_name", "guest")
	v.SetDefault("cors_origins", []string{})
}
