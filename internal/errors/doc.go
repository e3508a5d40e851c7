// Package errors provides structured, actionable error messages for the
// Lightning dev server.
//
// Every failure that can stop the server at startup (bad configuration,
// a watcher that cannot be created, a port that cannot be bound) is
// reported as a *LightningError carrying a stable code, a category, a
// plain-language explanation and, where possible, a hint on how to fix it.
//
// # Error Codes
//
//   - L1xx: configuration
//   - L2xx: startup (watcher, listener)
//   - L3xx: protocol (WebSocket channel)
//
// # Usage
//
//	err := errors.New("L101").WithDetail("LIGHTNING_PORT=abc is not a number")
//
//	errors.PrintError(os.Stderr, err)
//	// ERROR L101: Invalid port
//	//
//	//   LIGHTNING_PORT=abc is not a number
//	//
//	//   Hint: Use a port between 1 and 65535
package errors
