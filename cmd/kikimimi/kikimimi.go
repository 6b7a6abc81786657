package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/murakmii/kikimimi/pkg/kikimimi"
	"github.com/murakmii/kikimimi/pkg/kikimimi/channel"
	"github.com/murakmii/kikimimi/pkg/kikimimi/xpath"
	"github.com/urfave/cli"
	"golang.org/x/xerrors"
)

func main() {
	app := cli.NewApp()
	app.Name = "kikimimi"
	app.Usage = "Crawl web and listen to channels"
	app.UsageText = "kikimimi [global options] command [arguments...]"
	app.Version = "0.0.1"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config,c",
			Usage: "configuration file `PATH`(.json, .yaml or .yml)",
		},
	}

	app.Commands = []cli.Command{
		{
			Name:      "seeding",
			Usage:     "Seeding initial URL",
			UsageText: "kikimimi -c PATH seeding -u URL [-u URL...]",
			Flags: []cli.Flag{
				cli.StringSliceFlag{
					Name:     "url,u",
					Usage:    "seed `URL`",
					Required: true,
				},
			},
			Action: seedingCommand,
		},
		{
			Name:      "crawl",
			Usage:     "Start to crawl",
			UsageText: "kikimimi -c PATH crawl [-u URL...]",
			Flags: []cli.Flag{
				cli.StringSliceFlag{
					Name:  "url,u",
					Usage: "seed `URL` enqueued before crawling",
				},
			},
			Action: crawlCommand,
		},
		{
			Name:      "reset",
			Usage:     "Reset all data(exclude 'artifact')",
			UsageText: "kikimimi -c PATH reset",
			Action:    resetCommand,
		},
		{
			Name:  "channel",
			Usage: "Manage channels",
			Subcommands: []cli.Command{
				{
					Name:      "add",
					Usage:     "Add or replace channel",
					UsageText: "kikimimi -c PATH channel add -n NAME -q QUERY [-q QUERY...]",
					Flags: []cli.Flag{
						cli.StringFlag{
							Name:     "name,n",
							Usage:    "channel `NAME`",
							Required: true,
						},
						cli.StringSliceFlag{
							Name:     "query,q",
							Usage:    "`QUERY` to match documents",
							Required: true,
						},
					},
					Action: channelAddCommand,
				},
				{
					Name:      "list",
					Usage:     "List channels with matched URLs",
					UsageText: "kikimimi -c PATH channel list",
					Action:    channelListCommand,
				},
				{
					Name:      "remove",
					Usage:     "Remove channel",
					UsageText: "kikimimi -c PATH channel remove -n NAME",
					Flags: []cli.Flag{
						cli.StringFlag{
							Name:     "name,n",
							Usage:    "channel `NAME`",
							Required: true,
						},
					},
					Action: channelRemoveCommand,
				},
			},
		},
		{
			Name:      "check",
			Usage:     "Check query syntax",
			UsageText: "kikimimi check -q QUERY",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:     "query,q",
					Usage:    "`QUERY` to check",
					Required: true,
				},
			},
			Action: checkCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "\nERROR DETECTED:\n   %v\n", err)
		os.Exit(1)
	}
}

// データ初期化コマンド
func resetCommand(c *cli.Context) error {
	conf, err := configurationOf(c)
	if err != nil {
		return err
	}

	return kikimimi.Reset(conf)
}

// クロール開始コマンド
func crawlCommand(c *cli.Context) error {
	conf, err := configurationOf(c)
	if err != nil {
		return err
	}

	if err = kikimimi.Start(conf, c.StringSlice("url")); err != nil {
		return xerrors.Errorf("failed to crawl: %w", err)
	}

	return nil
}

// 初期URL設定コマンド
func seedingCommand(c *cli.Context) error {
	conf, err := configurationOf(c)
	if err != nil {
		return err
	}

	if err = kikimimi.Seeding(conf, c.StringSlice("url")); err != nil {
		return xerrors.Errorf("failed to seeding: %w", err)
	}

	return nil
}

func channelAddCommand(c *cli.Context) error {
	return withStore(c, func(ctx context.Context, store kikimimi.Store) error {
		return channel.Register(ctx, store, c.String("name"), c.StringSlice("query"))
	})
}

func channelListCommand(c *cli.Context) error {
	return withStore(c, func(ctx context.Context, store kikimimi.Store) error {
		summaries, err := channel.List(ctx, store)
		if err != nil {
			return err
		}

		encoder := json.NewEncoder(c.App.Writer)
		encoder.SetIndent("", "  ")
		return encoder.Encode(summaries)
	})
}

func channelRemoveCommand(c *cli.Context) error {
	return withStore(c, func(ctx context.Context, store kikimimi.Store) error {
		return channel.Remove(ctx, store, c.String("name"))
	})
}

// クエリの構文を検査し、解析結果を表示する
func checkCommand(c *cli.Context) error {
	q, err := xpath.Parse(c.String("query"))
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintf(c.App.Writer, "valid: %s\n", q)
	for i, step := range q.Steps() {
		_, _ = fmt.Fprintf(c.App.Writer, "  %d: %s\n", i+1, step)
	}

	return nil
}

func configurationOf(c *cli.Context) (*kikimimi.Configuration, error) {
	path := c.GlobalString("config")
	if len(path) == 0 {
		return nil, xerrors.New("configuration file is required: -c PATH")
	}

	conf, err := buildConfiguration(path)
	if err != nil {
		return nil, xerrors.Errorf("failed to load configuration: %w", err)
	}

	return conf, nil
}

// ストアを開いてfを実行する
func withStore(c *cli.Context, f func(ctx context.Context, store kikimimi.Store) error) error {
	conf, err := configurationOf(c)
	if err != nil {
		return err
	}

	ctx, err := kikimimi.RootContext(conf)
	if err != nil {
		return err
	}

	store, err := conf.StoreProvider(kikimimi.SubSystemContext(ctx, "store"), conf)
	if err != nil {
		return xerrors.Errorf("failed to setup store: %w", err)
	}
	defer store.Finish()

	return f(ctx, store)
}
