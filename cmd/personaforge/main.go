package main

import "github.com/tmarchini/personaforge/cmd/personaforge/cmd"

func main() {
	cmd.Execute()
}
