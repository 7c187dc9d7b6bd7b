package main

import "southwinds.dev/rekey/cli/cmd"

func main() {
	cmd.Execute()
}
