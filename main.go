package main

import "civictrack/cmd"

func main() {
	cmd.Execute()
}
