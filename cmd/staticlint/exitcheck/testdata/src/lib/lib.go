package lib

import (
	"errors"
	"log"
	"os"
)

var logger = log.New(os.Stderr, "", 0)

func Check(ok bool) error {
	if !ok {
		log.Fatalf("not ok") // want `log\.Fatalf terminates the process from package lib`
	}
	if len(os.Args) == 0 {
		os.Exit(1) // want `os\.Exit terminates the process from package lib`
	}
	logger.Println("method calls are not package functions")
	return errors.New("x")
}
