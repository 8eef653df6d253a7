// Package main provides the entry point for the kitty-template-tester
// CLI.
//
// kitty-template-tester sanity checks template files before a fuzzing
// session: it loads each file, renders every mutation of every
// template and reports templates that fail to render.
//
// Usage:
//
//	kitty-template-tester [--fast] [--tree] [--verbose] FILE ...
//
// See --help for all available options.
package main

// main is the entry point for kitty-template-tester.
func main() {
	Execute()
}
