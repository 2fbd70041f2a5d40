package main

import "wslogin/cmd/cli/command"

func main() {
	command.Execute()
}
