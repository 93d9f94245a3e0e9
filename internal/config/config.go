// Package config loads the RFB-TV client's JSON configuration file (§6.4)
// through spf13/viper, so environment variable overrides and an optional
// YAML ops-layer file are available for free, following the teacher
// pack's config-loading idiom (LanternOps-breeze's internal/config).
package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// rfbtvSection mirrors the nested "rfbtv" object in the JSON config file.
type rfbtvSection struct {
	AppURL             string            `mapstructure:"app_url"`
	Resolution         string            `mapstructure:"resolution"`
	ClientManufacturer string            `mapstructure:"client_manufacturer"`
	ClientModel        string            `mapstructure:"client_model"`
	CaPath             string            `mapstructure:"ca_path"`
	CaClientPath       string            `mapstructure:"ca_client_path"`
	PrivateKeyPath     string            `mapstructure:"private_key_path"`
	StreamForwardURL   string            `mapstructure:"stream_forward_url"`
	SetupParams        map[string]string `mapstructure:"setup_params"`
}

// rawConfig mirrors the on-disk JSON shape exactly, so viper's
// mapstructure decode can walk the nested "rfbtv" object.
type rawConfig struct {
	SessionManagerURL string       `mapstructure:"session_manager_url"`
	Rfbtv             rfbtvSection `mapstructure:"rfbtv"`
	MacAddress        string       `mapstructure:"mac_address"`
	BaseStorePath     string       `mapstructure:"base_store_path"`
}

// Config is the flattened view of the §6.4 configuration surface.
type Config struct {
	SessionManagerURL string

	AppURL             string
	Resolution         string
	ClientManufacturer string
	ClientModel        string
	CaPath             string
	CaClientPath       string
	PrivateKeyPath     string
	StreamForwardURL   string
	SetupParams        map[string]string

	MacAddress    string
	BaseStorePath string
}

func flatten(raw rawConfig) *Config {
	return &Config{
		SessionManagerURL:  raw.SessionManagerURL,
		AppURL:             raw.Rfbtv.AppURL,
		Resolution:         raw.Rfbtv.Resolution,
		ClientManufacturer: raw.Rfbtv.ClientManufacturer,
		ClientModel:        raw.Rfbtv.ClientModel,
		CaPath:             raw.Rfbtv.CaPath,
		CaClientPath:       raw.Rfbtv.CaClientPath,
		PrivateKeyPath:     raw.Rfbtv.PrivateKeyPath,
		StreamForwardURL:   raw.Rfbtv.StreamForwardURL,
		SetupParams:        raw.Rfbtv.SetupParams,
		MacAddress:         raw.MacAddress,
		BaseStorePath:      raw.BaseStorePath,
	}
}

// ScreenWidth and ScreenHeight parse the "WxH" Resolution field.
func (c *Config) ScreenWidth() uint16 {
	w, _ := parseResolution(c.Resolution)
	return w
}

func (c *Config) ScreenHeight() uint16 {
	_, h := parseResolution(c.Resolution)
	return h
}

func parseResolution(res string) (uint16, uint16) {
	var w, h uint16
	_, err := fmt.Sscanf(res, "%dx%d", &w, &h)
	if err != nil {
		return 1280, 720
	}
	return w, h
}

// Load reads the JSON config at path, optionally layered with a YAML
// override file at overridePath (CloudTV deployments commonly keep an
// ops-managed YAML file separate from the app-shipped JSON), and applies
// RFBTV_-prefixed environment variable overrides on top of both.
func Load(path, overridePath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if overridePath != "" {
		if err := mergeYAMLOverride(v, overridePath); err != nil {
			return nil, err
		}
	}

	v.SetEnvPrefix("RFBTV")
	v.AutomaticEnv()

	var raw rawConfig
	if err := v.Unmarshal(&raw); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return flatten(raw), nil
}

func mergeYAMLOverride(v *viper.Viper, overridePath string) error {
	data, err := os.ReadFile(overridePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("config: reading override %s: %w", overridePath, err)
	}
	var override map[string]interface{}
	if err := yaml.Unmarshal(data, &override); err != nil {
		return fmt.Errorf("config: parsing override %s: %w", overridePath, err)
	}
	return v.MergeConfigMap(override)
}
