package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	internalconfig "github.com/minutemanhq/minuteman/internal/config"
)

type envConfig struct {
	Env                  string `env:"ENV" envDefault:"production"`
	AnalyzerBaseURL      string `env:"ANALYZER_BASE_URL,required"`
	AnalyzeTimeoutMin    int    `env:"ANALYZE_TIMEOUT_MIN" envDefault:"4"`
	AudioFetchTimeoutSec int    `env:"AUDIO_FETCH_TIMEOUT_SEC" envDefault:"30"`
	DatabaseURL          string `env:"DATABASE_URL"`
	StorePath            string `env:"STORE_PATH"`
	SocketPath           string `env:"SOCKET_PATH" envDefault:"/tmp/minutemand.sock"`
	MetricsAddr          string `env:"METRICS_ADDR"`
	MicDevice            string `env:"MIC_DEVICE" envDefault:"default"`
	SystemAudioDevice    string `env:"SYSTEM_AUDIO_DEVICE" envDefault:"default"`
	DurableDispatch      bool   `env:"DURABLE_DISPATCH" envDefault:"true"`
	ReportOpenCommand    string `env:"REPORT_OPEN_COMMAND"`
	UserNamePrefix       string `env:"USER_NAME_PREFIX" envDefault:"user"`
}

func Load() (*internalconfig.Config, error) {
	var raw envConfig
	if err := env.Parse(&raw); err != nil {
		return nil, fmt.Errorf("environment variables are invalid or missing: %w", err)
	}

	cfg := &internalconfig.Config{
		Env:                  raw.Env,
		AnalyzerBaseURL:      raw.AnalyzerBaseURL,
		AnalyzeTimeoutMin:    raw.AnalyzeTimeoutMin,
		AudioFetchTimeoutSec: raw.AudioFetchTimeoutSec,
		DatabaseURL:          raw.DatabaseURL,
		StorePath:            raw.StorePath,
		SocketPath:           raw.SocketPath,
		MetricsAddr:          raw.MetricsAddr,
		MicDevice:            raw.MicDevice,
		SystemAudioDevice:    raw.SystemAudioDevice,
		DurableDispatch:      raw.DurableDispatch,
		ReportOpenCommand:    raw.ReportOpenCommand,
		UserNamePrefix:       raw.UserNamePrefix,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
