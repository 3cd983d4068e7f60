package internal

import (
	"fmt"

	"github.com/spf13/viper"
)

// NovaSqlConfig is the top-level configuration document: database storage
// mode/location, pager cache sizing and auto-vacuum mode, WAL checkpoint
// policy, and server/debug settings.
type NovaSqlConfig struct {
	Storage struct {
		Mode     string `mapstructure:"mode"`
		File     string `mapstructure:"file"`
		PageSize int    `mapstructure:"page_size"`
	} `mapstructure:"storage"`
	Pager struct {
		CacheCapacity int    `mapstructure:"cache_capacity"`
		AutoVacuum    string `mapstructure:"auto_vacuum"` // "none" | "full"
	} `mapstructure:"pager"`
	Wal struct {
		CheckpointThreshold int `mapstructure:"checkpoint_threshold"`
	} `mapstructure:"wal"`
	Server struct {
		Port  int  `mapstructure:"port"`
		Debug bool `mapstructure:"debug"`
	} `mapstructure:"server"`
}

// LoadConfig reads a YAML config document at path via viper, the way the
// rest of this engine's ambient tooling does.
func LoadConfig(path string) (*NovaSqlConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg NovaSqlConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}
