package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/urfave/cli/v2"

	"github.com/chazu/coven/parser"
)

func runCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "evaluate a ritual file and print its value",
		ArgsUsage: "[file|-]",
		Description: "Reads the ritual from file, from stdin when file is \"-\", or from the\n" +
			"manifest's entry when no file is given.",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "quiet",
				Aliases: []string{"q"},
				Usage:   "do not print the final value",
			},
		},
		Action: func(c *cli.Context) error {
			st := settingsFrom(c)
			name, src, err := readSource(c, st)
			if err != nil {
				return err
			}
			prog, err := parser.Parse(src)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}

			sess, closeJournal, err := st.newSession(c.App.Writer)
			if err != nil {
				return err
			}
			log.Infof("running %s with omen seed %d", name, sess.Seed())

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt)
			defer stop()
			v, err := sess.Run(ctx, prog)
			if jerr := closeJournal(); jerr != nil {
				log.Warningf("journal: %s", jerr)
			}
			if err != nil {
				return err
			}
			if !c.Bool("quiet") && !v.IsNil() {
				fmt.Fprintln(c.App.Writer, v)
			}
			return nil
		},
	}
}

func checkCommand() *cli.Command {
	return &cli.Command{
		Name:      "check",
		Usage:     "parse a ritual file without evaluating it",
		ArgsUsage: "[file|-]",
		Action: func(c *cli.Context) error {
			name, src, err := readSource(c, settingsFrom(c))
			if err != nil {
				return err
			}
			if _, err := parser.Parse(src); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			log.Infof("%s: ok", name)
			return nil
		},
	}
}

// readSource returns the display name and text of the ritual to evaluate.
func readSource(c *cli.Context, st *settings) (string, string, error) {
	path := c.Args().First()
	if path == "" {
		if st.manifest == nil {
			return "", "", errors.New("no ritual file given and no coven.toml found")
		}
		path = st.manifest.EntryPath()
	}
	if c.Args().Len() > 1 {
		return "", "", fmt.Errorf("expected one ritual file, got %d", c.Args().Len())
	}
	if path == "-" {
		data, err := io.ReadAll(c.App.Reader)
		if err != nil {
			return "", "", fmt.Errorf("reading stdin: %w", err)
		}
		return "<stdin>", string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", err
	}
	return path, string(data), nil
}
