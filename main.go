package main

import "github.com/dock-tor/dock-tor/cmd"

func main() {
	cmd.Execute()
}
