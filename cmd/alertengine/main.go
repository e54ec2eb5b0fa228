package main

import "trade-alert-engine/internal/cli"

func main() {
	cli.Execute()
}
