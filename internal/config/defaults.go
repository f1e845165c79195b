package config

const (
	defaultRunsDir          = "~/.local/share/cratedig/runs"
	defaultLogDir           = "~/.local/share/cratedig/logs"
	defaultLogRetentionDays = 30
	defaultLogFormat        = "console"
	defaultLogLevel         = "info"
	defaultTopK             = 3
	defaultStartupTimeout   = 60
	defaultRequestTimeout   = 120
	defaultSampleRate       = 22050
	defaultBatchSize        = 32
	defaultWorkers          = 4
	defaultQueueSize        = 256
	defaultHashAlgorithm    = "xxh64"
	defaultDedup            = "tag"
	defaultMiscThreshold    = 0.50
	defaultMiscLabel        = "misc"
	defaultRebuildMode      = "copy"
	defaultMinFreeRatio     = 0.05
)

func defaultExtensions() []string {
	return []string{".wav", ".aiff", ".aif", ".flac", ".mp3", ".ogg"}
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			RunsDir:  defaultRunsDir,
			CacheDir: defaultCacheDir(),
			LogDir:   defaultLogDir,
		},
		Predictor: Predictor{
			TopK:           defaultTopK,
			StartupTimeout: defaultStartupTimeout,
			RequestTimeout: defaultRequestTimeout,
		},
		Audio: Audio{
			Extensions: defaultExtensions(),
			SampleRate: defaultSampleRate,
			Mono:       true,
		},
		Inference: Inference{
			BatchSize:     defaultBatchSize,
			Workers:       defaultWorkers,
			HashAlgorithm: defaultHashAlgorithm,
			Dedup:         defaultDedup,
			SkipUnchanged: true,
			QueueSize:     defaultQueueSize,
		},
		Routing: Routing{
			MiscThreshold: defaultMiscThreshold,
			MiscLabel:     defaultMiscLabel,
		},
		Rebuild: Rebuild{
			Mode:         defaultRebuildMode,
			MinFreeRatio: defaultMinFreeRatio,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
