// Command sagactl is the operator CLI for the checkout saga: it triggers
// reconciliation, replays dead letters, provisions inventory tables and
// inspects orders and payments.
package main

import (
	"fmt"
	"os"
)

var Version = "dev"

func main() {
	if err := newApp(os.Stdout).rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
