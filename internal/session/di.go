package session

import (
	"time"

	"github.com/minutemanhq/minuteman/internal/analyzer"
	"github.com/minutemanhq/minuteman/internal/audio"
	"github.com/minutemanhq/minuteman/internal/blob"
	"github.com/minutemanhq/minuteman/internal/config"
	"github.com/minutemanhq/minuteman/internal/store"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*blob.Manager, error) {
		cfg := do.MustInvoke[*config.Config](i)
		st := do.MustInvoke[store.Store](i)
		client := do.MustInvoke[analyzer.Client](i)
		fetchTimeout := time.Duration(cfg.AudioFetchTimeoutSec) * time.Second
		return blob.NewManager(st, client, fetchTimeout), nil
	})
	do.Provide(injector, func(i do.Injector) (*Coordinator, error) {
		cfg := do.MustInvoke[*config.Config](i)
		st := do.MustInvoke[store.Store](i)
		blobs := do.MustInvoke[*blob.Manager](i)
		client := do.MustInvoke[analyzer.Client](i)
		newRecorder := do.MustInvoke[audio.RecorderFactory](i)
		return NewCoordinator(cfg, st, blobs, client, newRecorder), nil
	})
}
