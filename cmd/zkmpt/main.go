package main

import "github.com/consensys/zkmpt/cmd"

func main() {
	cmd.Execute()
}
