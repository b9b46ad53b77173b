package main

import "clinsync/cmd/client/cmd"

func main() {
	cmd.Execute()
}
