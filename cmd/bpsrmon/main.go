// Command bpsrmon passively observes a game server's TCP traffic and
// reports the best 4-module equipment combinations it finds.
package main

import "github.com/uzarakhq/bpsr-uza-modules/internal/cli"

func main() {
	cli.Execute()
}
