package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	"github.com/urfave/cli/v2"

	"github.com/chazu/coven/parser"
)

const (
	historyFile = ".coven_history"
	promptMain  = "coven> "
	promptCont  = "  ...> "
)

func replCommand() *cli.Command {
	return &cli.Command{
		Name:  "repl",
		Usage: "evaluate rituals interactively in one session",
		Description: "Bindings, rituals and Grimoire keys persist between inputs.\n" +
			"Ctrl-C cancels the running input; :quit or Ctrl-D exits.",
		Action: func(c *cli.Context) error {
			st := settingsFrom(c)
			sess, closeJournal, err := st.newSession(c.App.Writer)
			if err != nil {
				return err
			}
			defer func() {
				if jerr := closeJournal(); jerr != nil {
					log.Warningf("journal: %s", jerr)
				}
			}()

			ln := liner.NewLiner()
			defer ln.Close()
			ln.SetCtrlCAborts(true)

			histPath := ""
			if home, err := os.UserHomeDir(); err == nil {
				histPath = filepath.Join(home, historyFile)
				if f, err := os.Open(histPath); err == nil {
					_, _ = ln.ReadHistory(f)
					_ = f.Close()
				}
			}
			defer func() {
				if histPath == "" {
					return
				}
				if f, err := os.Create(histPath); err == nil {
					_, _ = ln.WriteHistory(f)
					_ = f.Close()
				}
			}()

			fmt.Fprintf(c.App.Writer, "coven %s, omen seed %d\n", Version, sess.Seed())
			for {
				src, ok := readByParseProbe(ln, promptMain, promptCont)
				if !ok {
					fmt.Fprintln(c.App.Writer)
					return nil
				}
				trimmed := strings.TrimSpace(src)
				switch {
				case trimmed == "":
					continue
				case trimmed == ":quit":
					return nil
				case strings.HasPrefix(trimmed, ":"):
					fmt.Fprintln(c.App.ErrWriter, "unknown command; type :quit to exit")
					continue
				}
				ln.AppendHistory(strings.ReplaceAll(src, "\n", " "))

				ctx, stop := signal.NotifyContext(c.Context, os.Interrupt)
				v, err := sess.Eval(ctx, src)
				stop()
				switch {
				case errors.Is(err, context.Canceled):
					fmt.Fprintln(c.App.ErrWriter, "interrupted")
				case err != nil:
					fmt.Fprintln(c.App.ErrWriter, err)
				case !v.IsNil():
					fmt.Fprintln(c.App.Writer, v.Inspect())
				}
			}
		},
	}
}

// readByParseProbe reads lines until they form a complete program or a
// syntax error that more input cannot fix.
func readByParseProbe(ln *liner.State, prompt, cont string) (string, bool) {
	var b strings.Builder
	for {
		p := prompt
		if b.Len() > 0 {
			p = cont
		}
		line, err := ln.Prompt(p)
		if errors.Is(err, io.EOF) {
			return "", false
		}
		if errors.Is(err, liner.ErrPromptAborted) {
			return "", true
		}
		if err != nil {
			return "", false
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)

		src := b.String()
		if _, err := parser.Parse(src); err == nil || !parser.IsIncomplete(err) {
			return src, true
		}
	}
}
