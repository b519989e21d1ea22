package main

import (
	"embed"
	"fmt"
	"os"

	"github.com/zurustar/flowsheet/pkg/app"
)

//go:embed demo
var demoFS embed.FS

func main() {
	application := app.New(demoFS)
	if err := application.Run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
