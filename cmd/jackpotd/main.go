package main

import (
	"github.com/vietddude/jackpotd/internal/cli"
)

func main() {
	cli.Execute()
}
