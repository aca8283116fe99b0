package main

import (
	"fmt"

	"github.com/tinyim/access-node/cmd"
)

func main() {
	if err := cmd.Run(); err != nil {
		fmt.Println(err.Error())
		return
	}
}
