package errors

// ErrorTemplate defines a registered error type.
type ErrorTemplate struct {
	Category   Category
	Message    string
	Suggestion string
}

// registry maps error codes to their templates.
var registry = map[string]ErrorTemplate{
	// Configuration (L100-L199)

	"L100": {
		Category: CategoryConfig,
		Message:  "Invalid configuration",
	},
	"L101": {
		Category:   CategoryConfig,
		Message:    "Invalid port",
		Suggestion: "Use a port between 1 and 65535",
	},
	"L102": {
		Category:   CategoryConfig,
		Message:    "Project root not found",
		Suggestion: "Point LIGHTNING_ROOT (or --root) at an existing directory",
	},
	"L103": {
		Category:   CategoryConfig,
		Message:    "Invalid debounce interval",
		Suggestion: "Use a non-negative number of milliseconds",
	},
	"L104": {
		Category:   CategoryConfig,
		Message:    "Failed to parse lightning.yaml",
		Suggestion: "Check that lightning.yaml is valid YAML",
	},

	// Startup (L200-L299)

	"L200": {
		Category:   CategoryStartup,
		Message:    "File watcher setup failed",
		Suggestion: "Check the root is readable and the OS watch limit is not exhausted",
	},
	"L201": {
		Category:   CategoryStartup,
		Message:    "Could not bind port",
		Suggestion: "Stop the process using the port or pick another with --port",
	},
	"L202": {
		Category: CategoryStartup,
		Message:  "Server already started",
	},

	// Protocol (L300-L399)

	"L300": {
		Category: CategoryProtocol,
		Message:  "WebSocket upgrade failed",
	},
}
