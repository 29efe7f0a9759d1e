package main

import (
	"log"
	"os"

	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/cli"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := cli.NewRootCommand().Execute(); err != nil {
		log.Printf("FATAL: %v", err)
		os.Exit(cli.GetExitCode(err))
	}
}
