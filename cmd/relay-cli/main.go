package main

import "github.com/nfrund/roomrelay/cmd/relay-cli/cmd"

func main() {
	cmd.Execute()
}
