package main

import "chat-bridge/cmd"

func main() {
	cmd.Execute()
}
