package main

import "github.com/vietddude/suindexer/internal/cli"

func main() {
	cli.Execute()
}
