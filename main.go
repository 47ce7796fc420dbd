// The main package for the frontier command line tool.
package main

import (
	"github.com/JakeFAU/site-frontier/cmd"
)

func main() {
	cmd.Execute()
}
