package main

import "github.com/ogulcanaydogan/bi-sentinel/internal/cli"

func main() {
	cli.Execute()
}
