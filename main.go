package main

import "switchboard/cmd"

func main() {
	cmd.Execute()
}
