package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"codeassess/internal/cli/command"
	"codeassess/internal/cli/config"
	httpclient "codeassess/internal/cli/http"
	"codeassess/internal/cli/repl"
	"codeassess/internal/cli/state"
)

const defaultConfigPath = "configs/cli.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	baseURL := flag.String("base", "", "Override base URL")
	timeout := flag.Duration("timeout", 0, "Override HTTP timeout (e.g. 10s)")
	token := flag.String("token", "", "Override candidate token")
	statePath := flag.String("state", "", "Override session state path")
	pretty := flag.Bool("pretty", false, "Pretty print JSON response")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	if *baseURL != "" {
		cfg.BaseURL = *baseURL
	}
	if *timeout > 0 {
		cfg.Timeout = *timeout
	}
	if *statePath != "" {
		cfg.StatePath = *statePath
	}
	if *pretty {
		trueValue := true
		cfg.PrettyJSON = &trueValue
	}

	sessionState, err := state.Load(cfg.StatePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load session state failed: %v\n", err)
		os.Exit(1)
	}
	if *token != "" {
		sessionState.Token = *token
	}

	client := httpclient.New(cfg.BaseURL, cfg.Timeout, func() string {
		return sessionState.Token
	})

	commands := command.Registry()
	rl, err := repl.NewReadline(cfg.HistoryFile, commands)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init readline failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = rl.Close()
	}()

	shell := repl.New(client, commands, &sessionState, cfg.StatePath, cfg.PrettyJSON != nil && *cfg.PrettyJSON, rl, rl.Stdout())
	shell.Run(context.Background())
}
