package main

import "github.com/seclens/seclens/cmd/seclens/cmd"

func main() {
	cmd.Execute()
}
