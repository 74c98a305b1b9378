package main

import (
	"fmt"

	"github.com/pkfsm/mioski/internal/manifest"
)

// runLink prints the direct download URL for each argument.
func runLink(args []string) int {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" {
		fmt.Fprintln(stderr, `Usage: mioski link <url>...

Print the direct download URL for Google Drive sharing links. Other URLs
are printed unchanged.`)
		if len(args) == 0 {
			return ExitInvalidArgs
		}
		return ExitSuccess
	}
	for _, a := range args {
		fmt.Println(manifest.DirectURL(a))
	}
	return ExitSuccess
}
