package config

const (
	defaultBaseURL                  = "https://breach.vip"
	defaultUserAgent                = "breachvip/dev"
	defaultRequestTimeoutSeconds    = 15
	defaultRequestsPerMinute        = 15
	defaultLimiterScope             = ScopeClient
	defaultMaxAttempts              = 3
	defaultRetryDelaySeconds        = 2
	defaultRateLimitCooldownSeconds = 60
	defaultMaxRateLimitRetries      = 3
	defaultMaxRateLimitWaitSeconds  = 60
	defaultStateDir                 = "~/.local/share/breachvip"
	defaultLogDir                   = "~/.local/share/breachvip/logs"
	defaultLogFormat                = "console"
	defaultLogLevel                 = "info"
	defaultConfigPath               = "~/.config/breachvip/config.toml"
)

var defaultSearchFields = []string{"email"}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		API: API{
			BaseURL:               defaultBaseURL,
			UserAgent:             defaultUserAgent,
			RequestTimeoutSeconds: defaultRequestTimeoutSeconds,
		},
		RateLimit: RateLimit{
			RequestsPerMinute: defaultRequestsPerMinute,
			Scope:             defaultLimiterScope,
		},
		Retry: Retry{
			MaxAttempts:              defaultMaxAttempts,
			RetryDelaySeconds:        defaultRetryDelaySeconds,
			RateLimitCooldownSeconds: defaultRateLimitCooldownSeconds,
			MaxRateLimitRetries:      defaultMaxRateLimitRetries,
			MaxRateLimitWaitSeconds:  defaultMaxRateLimitWaitSeconds,
		},
		Search: Search{
			DefaultFields: append([]string(nil), defaultSearchFields...),
		},
		Paths: Paths{
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
		},
		Journal: Journal{
			Enabled:       true,
			ExclusiveRuns: true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
