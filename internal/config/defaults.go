package config

func Defaults() *Config {
	return &Config{
		Telegram: TelegramConfig{
			PollTimeoutSeconds: 30,
			SendRatePerMinute:  1200,
			SendBurst:          20,
		},
		Data: DataConfig{
			Dir:          "data",
			RosterFile:   "players.csv",
			BindingsFile: "chat_ids.json",
			ProfilesFile: "user_profiles.json",
			DBPath:       "angelbot.db",
		},
		Storage: StorageConfig{
			Backend: "json",
		},
		RateLimit: RateLimitConfig{
			MaxRequests:   5,
			WindowSeconds: 60,
		},
		Dispatch: DispatchConfig{
			Concurrency: 8,
		},
		Log: LogConfig{
			Level: "info",
			Dir:   "logs",
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Addr:     "127.0.0.1:9090",
			Endpoint: "/metrics",
		},
	}
}
