package main

import (
	"os"

	"github.com/nfi/pkg/cmd"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := cmd.Run(); err != nil {
		log.Error().Err(err).Msg("nfi failed")
		os.Exit(1)
	}
}
