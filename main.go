package main

import (
	"os"

	"setup-wsl/cmd"
)

// main delegates to cmd.Execute and exits with the code it returns:
// 0 when provisioning reached the final report, 1 otherwise.
func main() {
	os.Exit(cmd.Execute())
}
