// Command sky is a materials synthesis agent: similarity search over
// precomputed embeddings, recipe lookup, LLM synthesis reports, and an MCP
// tool server.
package main

import (
	"os"

	"sky/cmd/sky/app"
)

func main() {
	if err := app.Execute(); err != nil {
		os.Exit(1)
	}
}
