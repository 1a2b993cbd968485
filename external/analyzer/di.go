package analyzer

import (
	internalanalyzer "github.com/minutemanhq/minuteman/internal/analyzer"
	"github.com/minutemanhq/minuteman/internal/config"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (internalanalyzer.Client, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return NewHTTPClient(cfg.AnalyzerBaseURL), nil
	})
}
