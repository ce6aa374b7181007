package main

import (
	"log"
	"os"
)

func newStderrLogger() *log.Logger {
	return log.New(os.Stderr, "symwalk: ", log.Ltime)
}
