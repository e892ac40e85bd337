// Package config loads and validates gellyrollerd's configuration.
package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

var (
	config *Config
	path   string
	once   sync.Once
	mu     sync.Mutex
	v      *viper.Viper
)

// Config is the full set of recognized configuration.
type Config struct {
	AppName       string `mapstructure:"app_name"`
	RunMode       string `mapstructure:"run_mode"`
	Host          string `mapstructure:"-"`
	Port          int    `mapstructure:"-"`
	Server        Server `mapstructure:"server"`
	Machine       Machine
	Transport     Transport
	Canvas        Canvas
	Job           Job
	Bus           Bus
	Logger        Logger
	Observability Observability
	Viper         *viper.Viper `mapstructure:"-"`
}

// Server holds the WebSocket upgrade endpoint's bind address.
type Server struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Machine describes the physical plotting envelope.
type Machine struct {
	XDimension float64 `mapstructure:"x_dimension"`
	YDimension float64 `mapstructure:"y_dimension"`
}

// Transport describes the serial link to the controller.
type Transport struct {
	SerialPath     string        `mapstructure:"serial_path"`
	BaudRate       int           `mapstructure:"baud_rate"`
	CommandTimeout time.Duration `mapstructure:"command_timeout"`
	DevMode        bool          `mapstructure:"dev_mode"`
}

// Canvas is the full set of CanvasOptions recognized by the SVG compiler.
type Canvas struct {
	CanvasWidth       float64 `mapstructure:"canvas_width"`
	CanvasHeight      float64 `mapstructure:"canvas_height"`
	Margin            float64 `mapstructure:"margin"`
	TravelSpeed       float64 `mapstructure:"travel_speed"`
	DrawSpeed         float64 `mapstructure:"draw_speed"`
	PenDownDelay      int     `mapstructure:"pen_down_delay"`
	PenUpDelay        int     `mapstructure:"pen_up_delay"`
	HeaderDwell       int     `mapstructure:"header_dwell"`
	Optimize          bool    `mapstructure:"optimize"`
	Simplify          bool    `mapstructure:"simplify"`
	SimplifyTolerance float64 `mapstructure:"simplify_tolerance"`
	ScaleMode         string  `mapstructure:"scale_mode"`
	AlignX            string  `mapstructure:"align_x"`
	AlignY            string  `mapstructure:"align_y"`
}

// Job configures the scheduler.
type Job struct {
	ProgressUpdateIntervalMs int `mapstructure:"progress_update_interval_ms"`
}

// Bus configures the WebSocket fan-out.
type Bus struct {
	HeartbeatIntervalMs int `mapstructure:"heartbeat_interval_ms"`
}

// Logger configures the process logger.
type Logger struct {
	Level      int    `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	OutputFile string `mapstructure:"output_file"`
}

// Observability configures optional crash reporting.
type Observability struct {
	SentryDSN string `mapstructure:"sentry_dsn"`
}

func init() {
	flag.StringVar(&path, "conf", "", "e.g: gellyrollerd -conf ./config.yaml")
	v = viper.New()
	setDefaults(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app_name", "gellyrollerd")
	v.SetDefault("run_mode", "production")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("machine.x_dimension", 480.0)
	v.SetDefault("machine.y_dimension", 480.0)
	v.SetDefault("transport.baud_rate", 115200)
	v.SetDefault("transport.command_timeout", "5s")
	v.SetDefault("transport.dev_mode", false)
	v.SetDefault("canvas.canvas_width", 480.0)
	v.SetDefault("canvas.canvas_height", 480.0)
	v.SetDefault("canvas.margin", 10.0)
	v.SetDefault("canvas.travel_speed", 6000.0)
	v.SetDefault("canvas.draw_speed", 3000.0)
	v.SetDefault("canvas.pen_down_delay", 150)
	v.SetDefault("canvas.pen_up_delay", 100)
	v.SetDefault("canvas.scale_mode", "fit")
	v.SetDefault("canvas.align_x", "center")
	v.SetDefault("canvas.align_y", "center")
	v.SetDefault("job.progress_update_interval_ms", 500)
	v.SetDefault("bus.heartbeat_interval_ms", 30000)
	v.SetDefault("logger.level", 4)
	v.SetDefault("logger.format", "json")
	v.SetDefault("logger.output", "stdout")
}

// Init initializes and loads the configuration exactly once.
func Init() (cfg *Config, err error) {
	once.Do(func() {
		cfg, err = loadConfiguration()
	})
	return cfg, err
}

// GetConfig returns the process-wide configuration, initializing it on first use.
func GetConfig() (*Config, error) {
	if config == nil {
		var err error
		config, err = Init()
		if err != nil {
			return nil, fmt.Errorf("failed to initialize config: %w", err)
		}
	}
	return config, nil
}

func loadConfiguration() (*Config, error) {
	if !flag.Parsed() {
		flag.Parse()
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}
	config = cfg
	return cfg, nil
}

// LoadConfig loads the configuration from configPath, or the default search
// path when configPath is empty. Unknown keys are rejected.
func LoadConfig(configPath string) (*Config, error) {
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		ex, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to get executable path: %w", err)
		}
		v.SetConfigName("config")
		v.AddConfigPath("/etc/gellyroller")
		v.AddConfigPath("$HOME/.gellyroller")
		v.AddConfigPath(".")
		v.AddConfigPath(filepath.Dir(ex))
	}

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{Viper: v}
	decodeHook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
	)
	if err := v.Unmarshal(cfg, func(dc *mapstructure.DecoderConfig) {
		dc.ErrorUnused = true
		dc.DecodeHook = decodeHook
	}); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	cfg.Host = cfg.Server.Host
	cfg.Port = cfg.Server.Port

	return cfg, nil
}

// Reload re-reads the configuration file and swaps the process-wide copy.
func Reload() error {
	mu.Lock()
	defer mu.Unlock()

	newConfig, err := LoadConfig(path)
	if err != nil {
		return fmt.Errorf("failed to reload config: %w", err)
	}

	config = newConfig
	return nil
}

// Watch reloads the configuration whenever the backing file changes.
func Watch(callback func(*Config)) {
	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		if err := Reload(); err != nil {
			fmt.Printf("error reloading config: %v\n", err)
			return
		}
		callback(config)
	})
}
