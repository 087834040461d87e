// The main package for the capture-engine executable.
package main

import (
	"github.com/JakeFAU/repo-capture-engine/cmd"
)

func main() {
	cmd.Execute()
}
