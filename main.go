// Package main provides the entry point for the concierge orchestrator.
package main

import "oikos/concierge/cmd"

func main() {
	cmd.Execute()
}
