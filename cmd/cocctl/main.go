// Command cocctl inspects and verifies the chain-of-custody ledger directly
// against its database.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/viper"
)

func main() {
	if err := newRootCmd(viper.New()).Execute(); err != nil {
		if errors.Is(err, errIntegrityViolations) {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
