package main

import (
	"github.com/hisab-network/hisab/internal/cli"
	"github.com/hisab-network/hisab/pkg/logging"
)

func main() {
	logging.Setup()
	cli.Execute()
}
