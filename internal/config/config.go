package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config はアプリケーション全体の設定を表す構造体
type Config struct {
	Queue   QueueConfig    `toml:"queue" json:"queue"`
	Log     LogConfig      `toml:"log" json:"log"`
	API     APIConfig      `toml:"api" json:"api"`
	Devices []DeviceConfig `toml:"device" json:"devices"`
}

// QueueConfig はキューとポーリングの設定
type QueueConfig struct {
	Capacity      int      `toml:"capacity" json:"capacity"`
	PollInterval  Duration `toml:"poll_interval" json:"poll_interval"`
	MaxRetries    int      `toml:"max_retries" json:"max_retries"`
	DefaultDevice int      `toml:"default_device" json:"default_device"`
	Layout        string   `toml:"layout" json:"layout"`
}

// LogConfig はログ出力の設定
type LogConfig struct {
	Level  string `toml:"level" json:"level"`
	Format string `toml:"format" json:"format"`
}

// APIConfig はAPIサーバーの設定
type APIConfig struct {
	Port int `toml:"port" json:"port"`
}

// DeviceConfig はデバイス番号とデバイスノードの対応
type DeviceConfig struct {
	Index     int    `toml:"index" json:"index"`
	Path      string `toml:"path" json:"path"`
	Backend   string `toml:"backend" json:"backend"`
	AutoStart bool   `toml:"auto_start" json:"auto_start"`
}

// Duration は "2ms" のような文字列で読み書きする time.Duration
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() *Config {
	return &Config{
		Queue: QueueConfig{
			Capacity:      10000,
			PollInterval:  Duration{2 * time.Millisecond},
			MaxRetries:    3,
			DefaultDevice: 0,
			Layout:        "us",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		API: APIConfig{
			Port: 8080,
		},
		Devices: []DeviceConfig{},
	}
}

// GetDefaultConfigDir はデフォルトの設定ディレクトリを返す
func GetDefaultConfigDir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "kbqueue"), nil
}

// Validate は設定値を検証する
func (c *Config) Validate() error {
	var errs []error
	if c.Queue.Capacity < 1 {
		errs = append(errs, fmt.Errorf("queue.capacity must be positive, got %d", c.Queue.Capacity))
	}
	if c.Queue.PollInterval.Duration <= 0 {
		errs = append(errs, fmt.Errorf("queue.poll_interval must be positive, got %s", c.Queue.PollInterval))
	}
	if c.Queue.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("queue.max_retries must not be negative, got %d", c.Queue.MaxRetries))
	}
	if c.Queue.DefaultDevice < 0 {
		errs = append(errs, fmt.Errorf("queue.default_device must not be negative, got %d", c.Queue.DefaultDevice))
	}
	if c.API.Port < 0 || c.API.Port > 65535 {
		errs = append(errs, fmt.Errorf("api.port out of range: %d", c.API.Port))
	}

	seen := make(map[int]bool)
	for _, d := range c.Devices {
		if d.Index < 0 {
			errs = append(errs, fmt.Errorf("device index must not be negative, got %d", d.Index))
		}
		if seen[d.Index] {
			errs = append(errs, fmt.Errorf("duplicate device index %d", d.Index))
		}
		seen[d.Index] = true
		if strings.TrimSpace(d.Path) == "" {
			errs = append(errs, fmt.Errorf("device %d: path is empty", d.Index))
		}
	}
	return errors.Join(errs...)
}

// Device はデバイス番号に対応する設定を返す
func (c *Config) Device(index int) (DeviceConfig, bool) {
	for _, d := range c.Devices {
		if d.Index == index {
			return d, true
		}
	}
	return DeviceConfig{}, false
}

// LoadConfig は設定ファイルから設定を読み込む
func LoadConfig(configPath string) (*Config, error) {
	// デフォルト設定を用意
	config := DefaultConfig()

	// ファイルが存在しない場合はデフォルト設定を保存して返す
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := SaveConfig(configPath, config); err != nil {
			return config, err
		}
		return config, nil
	}

	// 設定ファイルの読み込み
	if _, err := toml.DecodeFile(configPath, config); err != nil {
		return config, err
	}

	if err := config.Validate(); err != nil {
		return config, fmt.Errorf("invalid config %s: %w", configPath, err)
	}
	return config, nil
}

// SaveConfig は設定をTOMLファイルに保存する
func SaveConfig(configPath string, config *Config) error {
	// 設定ディレクトリの作成
	configDir := filepath.Dir(configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return err
	}

	// ファイルを開く（なければ作成）
	f, err := os.Create(configPath)
	if err != nil {
		return err
	}
	defer f.Close()

	// TOML形式でエンコードして書き込み
	encoder := toml.NewEncoder(f)
	return encoder.Encode(config)
}
