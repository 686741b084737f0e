package main

import (
	"log"

	"github.com/austindbirch/harbor_fanout/cmd/fanoutctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
