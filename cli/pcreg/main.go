// Package main is the pcreg command itself.
package main

import (
	"log"
	"os"

	"github.com/yxlao/StanfordPCL-sub001/cli"
)

func main() {
	app := cli.NewApp(os.Stdout, os.Stderr)
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
