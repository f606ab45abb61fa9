// Package cmd provides the command-line interface for unifee.
//
// # Available Commands
//
//   - unifee [dir]: build the pages of dir; -s serves them, -w watches
//   - build: build every page once and write the results
//   - serve: serve the pages with live reload, watching by default
//   - watch: rebuild pages on disk whenever a related asset changes
//   - config show: print the resolved configuration
//   - version: print build information
//
// # Command Examples
//
//	// Write self-contained copies of ./site into ./dist
//	unifee site -o dist
//
//	// Develop with live reload on http://127.0.0.1:4001
//	unifee serve site
//
//	// Use yarn for project builds
//	unifee site -o dist --yarn
//
// Configuration is read from flags, UNIFEE_ environment variables, a .env
// file and .unifee.yml, in that order of precedence.
package cmd
