package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/putto11262002/gamebloc/app"
)

func main() {
	envFile := flag.String("env", "", "load configuration from this .env file instead of config.yaml")
	flag.Parse()

	var config *gamebloc.Config
	if *envFile != "" {
		var err error
		config, err = (&gamebloc.EnvConfigLoader{Files: []string{*envFile}}).Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
			os.Exit(1)
		}
	}

	gamebloc.New(nil, config).Start()
}
