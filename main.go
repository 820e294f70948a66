package main

import "CoralPlay/cmd"

func main() {
	cmd.Execute()
}
