// Package main provides the entry point for the kitty-tool CLI.
//
// kitty-tool works with template files outside a fuzzing session:
// it lists the templates a file defines and generates payload corpora
// from their mutations.
//
// Usage:
//
//	kitty-tool generate [flags] FILE TEMPLATE
//	kitty-tool list FILE
//	kitty-tool --version
//
// See --help for all available options.
package main

// main is the entry point for kitty-tool.
func main() {
	Execute()
}
