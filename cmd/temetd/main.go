package main

import "github.com/Markk-dev/Temet-sub000/internal/cli"

func main() {
	cli.Execute()
}
