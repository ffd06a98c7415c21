package main

import "github.com/yarlson/forge/cmd"

func main() {
	cmd.Execute()
}
