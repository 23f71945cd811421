// Package main is the entry point for meterline.
package main

import (
	"github.com/joho/godotenv"
)

func main() {
	// Local development convenience; ignored when no .env exists.
	godotenv.Load()
	Execute()
}
