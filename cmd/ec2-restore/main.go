package main

import (
	"os"

	"ec2restore.io/ec2-restore-cli/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(3) // CLI/config error
	}
}
