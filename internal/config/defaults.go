package config

const (
	defaultIntakeDir          = "~/.local/share/bindery/intake"
	defaultOutputDir          = "~/.local/share/bindery/modules"
	defaultLogDir             = "~/.local/share/bindery/logs"
	defaultTables             = "auto"
	defaultOCR                = "auto"
	defaultWorkers            = 1
	defaultBaseBackoffMS      = 1000
	defaultMaxBackoffMS       = 30000
	defaultMaxAttempts        = 3
	defaultNotifyTimeout      = 10
	defaultNotifySendAttempts = 3
	defaultDedupWindowSeconds = 600
	defaultProgressThrottleMS = 50
	defaultShutdownTimeoutMS  = 3000
	defaultIntakeSettleMS     = 500
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			IntakeDir: defaultIntakeDir,
			OutputDir: defaultOutputDir,
			LogDir:    defaultLogDir,
		},
		Conversion: Conversion{
			Tables:           defaultTables,
			OCR:              defaultOCR,
			Workers:          defaultWorkers,
			TOC:              true,
			DeterministicIDs: true,
		},
		Recovery: Recovery{
			BaseBackoffMS: defaultBaseBackoffMS,
			MaxBackoffMS:  defaultMaxBackoffMS,
			MaxAttempts:   defaultMaxAttempts,
		},
		Notifications: Notifications{
			RequestTimeout:     defaultNotifyTimeout,
			SendAttempts:       defaultNotifySendAttempts,
			DedupWindowSeconds: defaultDedupWindowSeconds,
		},
		Workflow: Workflow{
			ProgressThrottleMS: defaultProgressThrottleMS,
			ShutdownTimeoutMS:  defaultShutdownTimeoutMS,
			IntakeSettleMS:     defaultIntakeSettleMS,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
