// Package main is the entry point for the sfbulk application
package main

import (
	"github.com/ethpandaops/sfbulk/cmd"
)

func main() {
	cmd.Execute()
}
