// Command vhtunneld runs the SSH tunnel registrar and the virtual-host
// reverse proxy as one process, configured entirely from the environment.
package main

import (
	"log"
	"os"

	"vhtunnel/internal/app"
)

func main() {
	application, err := app.New()
	if err != nil {
		log.Fatalf("failed to initialize application: %v", err)
	}

	if err := application.Start(); err != nil {
		log.Printf("application error: %v", err)
		os.Exit(1)
	}
}
