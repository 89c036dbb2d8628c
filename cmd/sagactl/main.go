package main

import (
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/arkivo/saga/cli/commands"
)

// Version information, injected at build time:
//
//	go build -ldflags "-X github.com/arkivo/saga/cli/commands.Version=v1.0.0"
func main() {
	commands.Execute()
}
