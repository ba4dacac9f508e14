package main

import "github.com/aweris/imagestore/cmd/imagestore/cmd"

func main() {
	cmd.Execute()
}
