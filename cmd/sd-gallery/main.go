package main

import (
	"go-sd-gallery/cmd/sd-gallery/cmd"
)

func main() {
	// Execute the root command (defined in cmd/root.go)
	cmd.Execute()
}
