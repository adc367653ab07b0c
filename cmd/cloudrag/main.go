package main

import "github.com/step6836/CloudRAG/internal/cli"

func main() {
	cli.Execute()
}
