// Command synthctl runs the quoting and liquidity engine offline against a
// JSON pool snapshot, as exported by GET /api/v1/pools.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
