package internal

const (
	ProgramName = "scriptscan"
	// Version is reported by the CLI and the about API.
	Version = "0.6.0"
)
