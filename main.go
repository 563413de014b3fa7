package main

import "compensation-engine/internal/cli"

func main() {
	cli.Execute()
}
