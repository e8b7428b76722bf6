package main

import (
	"flag"
	"log"
	"os"

	"github.com/danmuck/edgelink/internal/config"
)

func main() {
	kind := flag.String("kind", "full", "template kind: full|minimal")
	output := flag.String("output", "cmd/edgelink/config.toml", "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", "cmd/edgelink/config.toml", "config path for validation")
	dump := flag.Bool("dump", false, "with -validate, print the effective config")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	if *validate {
		cfg, err := config.Load(*input)
		if err != nil {
			log.Fatal(err)
		}
		log.Printf("Validated config at %s", *input)
		if *dump {
			out, err := config.Dump(cfg)
			if err != nil {
				log.Fatal(err)
			}
			_, _ = os.Stdout.Write(out)
		}
		return
	}

	if err := config.WriteTemplate(*output, *kind, *force); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote %s config template to %s", *kind, *output)
}
