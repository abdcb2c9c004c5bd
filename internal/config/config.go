// Package config loads the application configuration.
package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config holds the configuration for the application.
type Config struct {
	Server struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"server"`
	DB struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
		SSLMode  string `mapstructure:"sslmode"`
	} `mapstructure:"db"`
	LLM struct {
		URL     string        `mapstructure:"url"`
		Timeout time.Duration `mapstructure:"timeout"`
	} `mapstructure:"llm"`
	Browser struct {
		URL         string        `mapstructure:"url"`
		StepTimeout time.Duration `mapstructure:"step_timeout"`
	} `mapstructure:"browser"`
	Routing struct {
		// LearnThreshold is the number of consecutive identical agent
		// successes required before a draft workflow is synthesized.
		LearnThreshold int `mapstructure:"learn_threshold"`
		// AgentMaxSteps bounds the adaptive agent's plan-act loop.
		AgentMaxSteps int `mapstructure:"agent_max_steps"`
	} `mapstructure:"routing"`
	TLS struct {
		Enable    bool     `mapstructure:"enable"`
		CertFile  string   `mapstructure:"cert_file"`
		KeyFile   string   `mapstructure:"key_file"`
		Hostnames []string `mapstructure:"hostnames"`
	} `mapstructure:"tls"`
}

// LoadConfig loads the configuration from a file and the environment. An
// empty path falls back to the standard search locations.
func LoadConfig(path string) (*Config, error) {
	if path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
	}
	viper.AutomaticEnv()

	viper.SetDefault("server.addr", ":8080")
	viper.SetDefault("db.sslmode", "disable")
	viper.SetDefault("llm.timeout", 30*time.Second)
	viper.SetDefault("browser.step_timeout", 30*time.Second)
	viper.SetDefault("routing.learn_threshold", 3)
	viper.SetDefault("routing.agent_max_steps", 20)

	if err := viper.ReadInConfig(); err != nil {
		// config file is optional; env and defaults still apply
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}
