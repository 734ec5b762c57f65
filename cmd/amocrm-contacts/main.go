// Package main is the entry point for amocrm-contacts.
package main

import (
	"fmt"
	"os"

	"amocrm-contacts/internal/cli"
)

func main() {
	cli.Init()

	if err := cli.RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
