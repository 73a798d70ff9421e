package main

import (
	"fmt"
	"io"
	"os"

	"github.com/tliron/commonlog"
	"github.com/urfave/cli/v2"

	"github.com/chazu/coven/journal"
	"github.com/chazu/coven/manifest"
	"github.com/chazu/coven/vm"

	_ "github.com/tliron/commonlog/simple"
)

var log = commonlog.GetLogger("coven.cli")

// settings is the merged result of the manifest and the global flags.
type settings struct {
	manifest *manifest.Manifest // nil without a coven.toml
	config   vm.Config

	journalCBOR   string
	journalSQLite string
}

const settingsKey = "settings"

func settingsFrom(c *cli.Context) *settings {
	return c.App.Metadata[settingsKey].(*settings)
}

// setup loads the manifest, configures logging and builds the evaluation
// config. Flags override manifest values.
func setup(c *cli.Context) error {
	m, err := loadManifest(c)
	if err != nil {
		return err
	}

	st := &settings{config: vm.DefaultConfig()}
	st.config.Output = c.App.Writer

	verbosity := c.Int("verbose")
	logFile := c.Path("log-file")
	if m != nil {
		st.manifest = m
		m.Apply(&st.config)
		if !c.IsSet("verbose") {
			verbosity = m.Log.Verbosity
		}
		if logFile == "" {
			logFile = m.Path(m.Log.File)
		}
		st.journalCBOR = m.Path(m.Journal.CBOR)
		st.journalSQLite = m.Path(m.Journal.SQLite)
	}
	configureLogging(verbosity, logFile)

	if c.IsSet("seed") {
		seed := c.Uint64("seed")
		st.config.Seed = &seed
	}
	if c.IsSet("workers") {
		st.config.Workers = c.Int("workers")
	}
	if c.IsSet("journal-cbor") {
		st.journalCBOR = c.Path("journal-cbor")
	}
	if c.IsSet("journal-sqlite") {
		st.journalSQLite = c.Path("journal-sqlite")
	}

	if c.App.Metadata == nil {
		c.App.Metadata = make(map[string]interface{})
	}
	c.App.Metadata[settingsKey] = st
	if m != nil {
		log.Debugf("manifest %s/%s", m.Dir, manifest.FileName)
	}
	return nil
}

func loadManifest(c *cli.Context) (*manifest.Manifest, error) {
	if path := c.Path("config"); path != "" {
		return manifest.LoadFile(path)
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	return manifest.FindAndLoad(wd)
}

// configureLogging maps the CLI verbosity (0 errors only, up to 4 debug)
// onto commonlog's scale, where -2 is error and 0 is notice.
func configureLogging(verbosity int, path string) {
	var file *string
	if path != "" {
		file = &path
	}
	commonlog.Configure(verbosity-2, file)
}

// openJournal opens the configured sinks. It returns nil when none are set.
func (st *settings) openJournal() (*journal.Journal, error) {
	var sinks []journal.Sink
	if st.journalCBOR != "" {
		s, err := journal.CreateCBOR(st.journalCBOR)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if st.journalSQLite != "" {
		s, err := journal.OpenSQLite(st.journalSQLite)
		if err != nil {
			closeSinks(sinks)
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if len(sinks) == 0 {
		return nil, nil
	}
	j := journal.New(sinks...)
	log.Infof("journal run %s", j.RunID())
	return j, nil
}

func closeSinks(sinks []journal.Sink) {
	for _, s := range sinks {
		_ = s.Close()
	}
}

// newSession builds a session wired to the journal, if any. The returned
// closer flushes the journal.
func (st *settings) newSession(out io.Writer) (*vm.Session, func() error, error) {
	cfg := st.config
	cfg.Output = out
	j, err := st.openJournal()
	if err != nil {
		return nil, nil, fmt.Errorf("journal: %w", err)
	}
	closer := func() error { return nil }
	if j != nil {
		cfg.Observer = j
		closer = j.Close
	}
	sess, err := vm.NewSession(cfg)
	if err != nil {
		_ = closer()
		return nil, nil, err
	}
	return sess, closer, nil
}
