package main

import (
	"github.com/devstd2211/smart-levels-trading-bot-sub006/internal/cli"
)

func main() {
	cli.Execute()
}
