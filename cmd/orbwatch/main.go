package main

import "orbwatch/internal/cli"

func main() {
	cli.Execute()
}
