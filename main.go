package main

import (
	"github.com/luma/chatter/cmd"
)

func main() {
	cmd.Execute()
}
