package main

import "serial-batch/cmd"

func main() {
	cmd.Execute()
}
