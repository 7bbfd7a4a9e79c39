package main

import "github.com/vietddude/streamretry/internal/cli"

func main() {
	cli.Execute()
}
