package main

import (
	"os"
	"strings"

	"github.com/matthewdale/mongo-agg/internal/config"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/level"
	"github.com/mongodb/grip/send"
	"github.com/pkg/errors"
	"github.com/urfave/cli"
)

const (
	levelFlagName      = "level"
	confFlagName       = "conf"
	fileFlagName       = "file"
	depthFlagName      = "depth"
	summaryFlagName    = "summary"
	collectionFlagName = "collection"
	databaseFlagName   = "db"
	uriFlagName        = "uri"
	limitFlagName      = "limit"
)

func main() {
	app := buildApp()
	grip.EmergencyFatal(app.Run(os.Args))
}

func buildApp() *cli.App {
	app := cli.NewApp()
	app.Name = "aggctl"
	app.Usage = "build and run MongoDB aggregation pipelines from definition files"
	app.Version = "0.1.0"

	app.Commands = []cli.Command{
		show(),
		run(),
	}

	confPath, err := config.DefaultPath()
	if err != nil {
		confPath = config.DefaultFileName
	}

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  levelFlagName,
			Usage: "Specify lowest visible log level as string: 'emergency|alert|critical|error|warning|notice|info|debug|trace'",
		},
		cli.StringFlag{
			Name:  joinFlagNames(confFlagName, "config", "c"),
			Usage: "specify the path for the aggctl config",
			Value: confPath,
		},
	}

	app.Before = func(c *cli.Context) error {
		conf, err := config.Load(c.String(confFlagName))
		if err != nil {
			return errors.Wrap(err, "error loading configuration")
		}
		l := c.String(levelFlagName)
		if l == "" {
			l = conf.LogLevel
		}
		return loggingSetup(app.Name, l)
	}

	return app
}

func loggingSetup(name, l string) error {
	if err := grip.SetSender(send.MakeErrorLogger()); err != nil {
		return err
	}
	grip.SetName(name)

	sender := grip.GetSender()
	info := sender.Level()
	info.Threshold = level.FromString(l)

	return sender.SetLevel(info)
}

// loadConfig reads the config file named by the global --conf flag.
func loadConfig(c *cli.Context) (*config.Config, error) {
	conf, err := config.Load(c.GlobalString(confFlagName))
	if err != nil {
		return nil, errors.Wrap(err, "error loading configuration")
	}
	return conf, nil
}

func mergeFlagSlices(in ...[]cli.Flag) []cli.Flag {
	out := []cli.Flag{}

	for idx := range in {
		out = append(out, in[idx]...)
	}

	return out
}

func addFileFlag(flags ...cli.Flag) []cli.Flag {
	return append(flags, cli.StringFlag{
		Name:     joinFlagNames(fileFlagName, "f"),
		Usage:    "path of the pipeline definition file ('-' for stdin)",
		Required: true,
	})
}

func joinFlagNames(ids ...string) string { return strings.Join(ids, ", ") }
