package main

import "github.com/example/face-access/cmd"

func main() {
	cmd.Execute()
}
