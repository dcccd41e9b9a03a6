package main

import (
	"github.com/tejjnayak/sandchat/internal/cmd"
)

func main() {
	cmd.Execute()
}
