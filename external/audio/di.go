package audio

import (
	internalaudio "github.com/minutemanhq/minuteman/internal/audio"
	"github.com/minutemanhq/minuteman/internal/config"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (internalaudio.SourceFactory, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return NewFFmpegSourceFactory(cfg.MicDevice, cfg.SystemAudioDevice), nil
	})
	do.Provide(injector, func(i do.Injector) (internalaudio.RecorderFactory, error) {
		sources := do.MustInvoke[internalaudio.SourceFactory](i)
		return internalaudio.RecorderFactory(func() *internalaudio.Recorder {
			return internalaudio.NewRecorder(sources, NewOpusEncoder)
		}), nil
	})
}
