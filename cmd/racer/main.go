package main

import (
	"log"
	"os"

	"github.com/celer-network/tx-racer/cmd/racer/app"
)

func main() {
	err := app.Execute()
	if err != nil {
		log.Fatalf("racer failed: %v", err)
	}

	os.Exit(0)
}
