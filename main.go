package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mitchellh/cli"

	"github.com/yelp/clusterman/command"
	"github.com/yelp/clusterman/version"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	versionString := fmt.Sprintf("clusterman-migrator %s", version.GetHumanVersion())
	c := cli.NewCLI("clusterman-migrator", versionString)
	c.Args = os.Args[1:]
	c.Commands = map[string]cli.CommandFactory{
		"agent": func() (cli.Command, error) {
			return &command.AgentCommand{Ctx: ctx}, nil
		},
		"version": func() (cli.Command, error) {
			return &command.VersionCommand{Version: versionString}, nil
		},
	}

	exitCode, err := c.Run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error executing CLI: %v\n", err)
	}
	os.Exit(exitCode)
}
