package command

import (
	"context"
	"flag"
	"fmt"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/yelp/clusterman/agent"
	"github.com/yelp/clusterman/config"
)

// AgentCommand runs the migration engine's long-lived daemon: one uptime
// migration worker per configured pool plus the shared drain, terminate,
// and warning queue pipelines.
type AgentCommand struct {
	Ctx context.Context

	args []string
}

// Help returns the long-form command help text.
func (c *AgentCommand) Help() string {
	helpText := `
Usage: clusterman-migrator agent [options]

  Starts the node migration engine and runs until an interrupt is received.

Options:

  -config=<path>
    The path to the HCL configuration file to use. May be repeated.

  -log-level=<level>
    Specify the verbosity level of the logs. Valid values include DEBUG,
    INFO, and WARN, in decreasing order of verbosity. The default is INFO.

  -log-json
    Output logs in a JSON format. The default is false.
`
	return strings.TrimSpace(helpText)
}

// Synopsis returns a one-line summary of the command.
func (c *AgentCommand) Synopsis() string {
	return "Runs the node migration engine"
}

// Run parses args, loads configuration, and runs the agent until Ctx is
// cancelled.
func (c *AgentCommand) Run(args []string) int {
	c.args = args

	cfg, err := c.readConfig()
	if err != nil {
		fmt.Printf("Error parsing command arguments: %v\n", err)
		fmt.Print(c.Help())
		return 1
	}

	logger := hclog.NewInterceptLogger(&hclog.LoggerOptions{
		Name:       "clusterman-migrator",
		Level:      hclog.LevelFromString(cfg.LogLevel),
		JSONFormat: cfg.LogJSON,
	})

	a := agent.NewAgent(cfg, logger)
	if err := a.Run(c.Ctx); err != nil {
		logger.Error("agent exited with error", "error", err)
		return 1
	}
	return 0
}

func (c *AgentCommand) readConfig() (*config.Config, error) {
	var configPaths []string

	flags := flag.NewFlagSet("agent", flag.ContinueOnError)
	flags.Usage = func() { fmt.Print(c.Help()) }

	cmdConfig := &config.Config{}
	flags.Func("config", "", func(s string) error {
		configPaths = append(configPaths, s)
		return nil
	})
	flags.StringVar(&cmdConfig.LogLevel, "log-level", "", "")
	flags.BoolVar(&cmdConfig.LogJSON, "log-json", false, "")

	if err := flags.Parse(c.args); err != nil {
		return nil, err
	}

	cfg := config.Default()
	for _, path := range configPaths {
		current, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("error loading configuration from %s: %w", path, err)
		}
		cfg = cfg.Merge(current)
	}

	return cfg.Merge(cmdConfig), nil
}
