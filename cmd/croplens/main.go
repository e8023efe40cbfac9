package main

import "github.com/croplens/croplens/cmd/croplens/cmd"

func main() {
	cmd.Execute()
}
