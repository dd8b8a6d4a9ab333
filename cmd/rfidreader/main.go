package main

import (
	"context"
	"os"

	"github.com/luhtfiimanal/go-rfid-serial/internal/cli"
)

func main() {
	os.Exit(cli.Run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}
