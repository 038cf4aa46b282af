package main

import "github.com/bryanchriswhite/DepthStreamer/cmd/depthstreamer/commands"

func main() {
	commands.Execute()
}
