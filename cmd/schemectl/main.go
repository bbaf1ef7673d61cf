// Command schemectl checks, previews and compares scheme drafts offline,
// without a running server or database.
package main

import (
	"os"

	"github.com/warp/incentive-engine/cmd/schemectl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
