// Package config provides configuration loading for the Lightning dev server.
//
// Configuration is resolved once at startup and never mutated afterwards.
// Sources are applied in order, later sources overriding earlier ones:
//
//  1. Built-in defaults (port 3274, entry index.html, ...)
//  2. lightning.yaml in the project root, if present
//  3. LIGHTNING_* environment variables
//  4. Command-line overrides
//
// # Configuration File Structure
//
//	port: 3274
//	host: localhost
//	entry: index.html
//	watch: [html, css, js]
//	debounce: 300ms
//	ignore: [node_modules/, .git/]
//	metricsAddr: 127.0.0.1:9274
//
// # Environment
//
//	LIGHTNING_PORT             port number
//	LIGHTNING_HOST             bind host
//	LIGHTNING_ROOT             project root directory
//	LIGHTNING_ENTRY            file served for "/"
//	LIGHTNING_WATCH_EXTENSIONS comma-separated extensions
//	LIGHTNING_DEBOUNCE_MS      debounce window in milliseconds
//	LIGHTNING_METRICS_ADDR     address for the Prometheus listener
//
// # Usage
//
//	cfg, err := config.Load(config.LoadOptions{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	fmt.Println("Serving", cfg.Root, "on", cfg.Address())
package config
