// Command dokq is a delayed, retryable work queue over a shared store.
package main

import (
	"os"

	"github.com/nuetzliches/dokq/internal/app"
)

func main() {
	os.Exit(app.Main(os.Args))
}
