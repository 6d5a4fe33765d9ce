package main

import (
	"log"
	"os"
)

func main() {
	defer func() { os.Exit(3) }()
	if len(os.Args) > 2 {
		log.Fatal("usage")
	}
	os.Exit(1) // want `os\.Exit called directly in main\.main`
}

func fail() {
	os.Exit(2)
}

type runner struct{}

func (runner) main() {
	os.Exit(4)
}
