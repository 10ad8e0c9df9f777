package main

import (
	"os"

	"github.com/ChaneHaDa/stock-batch-server/cmd/stockbatch/commands"
)

// main is the entry point for the stock batch CLI
// ⭐ 통합 CLI 진입점: go run ./cmd/stockbatch [command]
func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
