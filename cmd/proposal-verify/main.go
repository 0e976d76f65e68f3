package main

import (
	"os"

	"github.com/bianoble/proposal-verify/cmd/proposal-verify/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
