// Command convrag indexes files into per-conversation vector collections and
// answers cached retrieval queries over them. It also runs an ops server with
// health, readiness, and metrics endpoints.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/54b3r/convrag/cmd/convrag/commands"
)

func main() {
	if err := commands.Execute(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
