package main

import "github.com/kozaktomas/featmatch/cmd"

func main() {
	cmd.Execute()
}
