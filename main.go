package main

import "github.com/hvackit/nexia/cmd"

func main() {
	cmd.Execute()
}
