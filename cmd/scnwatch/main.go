package main

import "scnwatch/internal/cli"

func main() {
	cli.Execute()
}
