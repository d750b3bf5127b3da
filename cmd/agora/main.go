package main

import "github.com/agora-works/agora/cmd/agora/cmd"

func main() {
	cmd.Execute()
}
