package main

import "deviation-screener/internal/cli"

func main() {
	cli.Execute()
}
