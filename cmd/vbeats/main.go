// Package main provides the vbeats command line tool.
package main

import "github.com/vbeats/vbeats-api/internal/cli"

func main() {
	cli.Main()
}
