package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/akamensky/argparse"
	"github.com/sproutcast/sproutcast/server"
)

func main() {
	parser := argparse.NewParser("sproutcast", "Plant monitoring pipeline with adaptive depth inference")
	configFilePath := parser.String("c", "config", &argparse.Options{Help: "Config file path", Default: "sproutcast.json"})
	port := parser.String("p", "port", &argparse.Options{Help: "HTTP listen address", Default: ":8080"})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	s, err := server.NewServer(*configFilePath)
	if err != nil {
		fmt.Printf("Failed to start: %v\n", err)
		os.Exit(1)
	}
	s.Start()
	s.ListenForKillSignals()
	if err := s.ListenHTTP(*port); err != nil && err != http.ErrServerClosed {
		fmt.Printf("%v\n", err)
	}
}
