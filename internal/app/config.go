package app

// Config is the application's bootstrap configuration — the command-line
// surface the cmd/ package builds and hands to NewApplication, grounded
// on the teacher's own app.Config (internal/app/bootstrap.go).
type Config struct {
	// ConfigPath points at an optional YAML configuration file (see
	// internal/config.Load). Empty means defaults plus environment
	// overrides only.
	ConfigPath string
	// Debug enables debug-level logging.
	Debug bool
	// Silent discards all log output, used by tests driving the CLI.
	Silent bool
}

// NewConfig builds a bootstrap Config from CLI flag values.
func NewConfig(debug, silent bool, configPath string) *Config {
	return &Config{ConfigPath: configPath, Debug: debug, Silent: silent}
}
