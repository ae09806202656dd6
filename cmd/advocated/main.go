// advocated — a personal advocate that screens inbound messages and
// negotiates capability grants on its owner's behalf.
package main

import "github.com/skworld/advocate/internal/cli"

func main() {
	cli.Execute()
}
