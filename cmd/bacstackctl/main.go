// bacstackctl -- CLI client for a running bacstackd node.
package main

import "github.com/bacstack/bacstack/cmd/bacstackctl/commands"

func main() {
	commands.Execute()
}
