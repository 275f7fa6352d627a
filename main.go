package main

import "github.com/renamarr/renamarr/cmd"

func main() {
	cmd.Execute()
}
