// Package main provides the entry point for the kitty-web-client CLI.
//
// kitty-web-client talks to the web interface of a running fuzzing
// session: it shows progress, pauses and resumes the session and
// downloads stored reports.
//
// Usage:
//
//	kitty-web-client info [-v] [--host HOST] [--port PORT]
//	kitty-web-client pause [--host HOST] [--port PORT]
//	kitty-web-client resume [--host HOST] [--port PORT]
//	kitty-web-client reports store FOLDER [--host HOST] [--port PORT]
//	kitty-web-client reports show FILE ...
//
// See --help for all available options.
package main

// main is the entry point for kitty-web-client.
func main() {
	Execute()
}
