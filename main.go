package main

import (
	"TextTune/cmd"
)

func main() {
	cmd.Execute()
}
