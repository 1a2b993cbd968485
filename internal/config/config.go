package config

import (
	"fmt"
)

type Config struct {
	Env                  string
	AnalyzerBaseURL      string
	AnalyzeTimeoutMin    int
	AudioFetchTimeoutSec int
	DatabaseURL          string
	StorePath            string
	SocketPath           string
	MetricsAddr          string
	MicDevice            string
	SystemAudioDevice    string
	DurableDispatch      bool
	ReportOpenCommand    string
	UserNamePrefix       string
}

func (c *Config) Validate() error {
	for _, req := range c.requiredFieldChecks() {
		if req.value == "" {
			return fmt.Errorf("%s is required", req.name)
		}
	}
	if c.AnalyzeTimeoutMin <= 0 {
		return fmt.Errorf("ANALYZE_TIMEOUT_MIN must be positive, got %d", c.AnalyzeTimeoutMin)
	}
	if c.AudioFetchTimeoutSec <= 0 {
		return fmt.Errorf("AUDIO_FETCH_TIMEOUT_SEC must be positive, got %d", c.AudioFetchTimeoutSec)
	}
	if c.DatabaseURL == "" && c.StorePath == "" {
		return fmt.Errorf("one of DATABASE_URL or STORE_PATH is required")
	}
	return nil
}

type requiredEnvField struct {
	name  string
	value string
}

func (c *Config) requiredFieldChecks() []requiredEnvField {
	return []requiredEnvField{
		{name: "ANALYZER_BASE_URL", value: c.AnalyzerBaseURL},
		{name: "SOCKET_PATH", value: c.SocketPath},
	}
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}
