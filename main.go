package main

import (
	"os"

	"github.com/digitalboi0/Template-man/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		os.Exit(1)
	}
}
