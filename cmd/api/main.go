package main

import (
	"context"
	"log"

	"smartnotes/internal/cli"
)

func main() {
	if err := cli.NewCLI().ExecuteContext(context.Background()); err != nil {
		log.Fatalf("smartnotes: %v", err)
	}
}
