// Package dev provides the development server and live reload.
//
// This package implements:
//   - Static file serving from the project root, with the reload agent
//     injected into HTML
//   - Recursive file watching via fsnotify
//   - Debounced change aggregation (one decision per quiet window)
//   - WebSocket-based browser refresh
//
// # Architecture
//
//   - Resolver: maps request paths to files, sets content types, instruments HTML
//   - Hub: the set of connected browsers and the broadcast primitive
//   - Watcher: turns fsnotify events into root-relative Events
//   - Aggregator: filters Events, debounces, decides the reload message
//   - Server: wires the above behind a chi router and owns their lifetime
//
// # Usage
//
//	srv := dev.NewServer(dev.ServerOptions{Config: cfg})
//
//	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer stop()
//
//	if err := srv.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// # Hot Reload Protocol
//
// The browser connects to /ws via WebSocket (any request carrying an
// "Upgrade: websocket" header is also accepted). Messages are JSON-encoded
// and flow from server to client only:
//
//	{"type": "css-reload"}                 // Refresh stylesheets in place
//	{"type": "reload", "file": "app.js"}   // Full page reload
package dev
