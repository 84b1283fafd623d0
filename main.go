package main

import (
	"context"
	"os"

	"github.com/LlamaEdge/llama-api-server/cmd"
)

func main() {
	if err := cmd.NewCLI().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
