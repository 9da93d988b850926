package config

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RequestTimeoutSeconds == 0 {
		cfg.Server.RequestTimeoutSeconds = 30
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/miniblog/data/app.db"
	}
	if cfg.Blog.PostsPerPage == 0 {
		cfg.Blog.PostsPerPage = 25
	}
	if cfg.Blog.MaxPerPage == 0 {
		cfg.Blog.MaxPerPage = 100
	}
	if cfg.Tasks.Queue == "" {
		cfg.Tasks.Queue = "miniblog-tasks"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}
