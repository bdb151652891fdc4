package main

import "github.com/agentic-research/logreduce/cmd"

func main() {
	cmd.Execute()
}
