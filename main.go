package main

import "github.com/macrobox/macrobox-cli/cmd/macrobox"

func main() {
	macrobox.Execute()
}
