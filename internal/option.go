package internal

import "io"

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config *Config
	stderr io.Writer
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithLogOutput sets where the JSON log is written. Defaults to os.Stderr so
// stdout stays free for command output and the MCP stdio transport.
func WithLogOutput(w io.Writer) Option {
	return func(a *application) {
		a.stderr = w
	}
}
