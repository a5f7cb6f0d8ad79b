package main

import "github.com/msln-build/msln/cmd"

func main() {
	cmd.Execute()
}
