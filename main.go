package main

import "github.com/codial-ai/codial-core/cmd"

func main() {
	cmd.Execute()
}
