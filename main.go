package main

import "github.com/agentic-research/bomstore/cmd"

func main() {
	cmd.Execute()
}
