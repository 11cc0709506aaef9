package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	detscore "github.com/jamesainslie/go-detscore"
	"github.com/jamesainslie/go-detscore/detect"
	"github.com/jamesainslie/go-detscore/inference"
	"github.com/jamesainslie/go-detscore/internal/config"
	"github.com/jamesainslie/go-detscore/internal/log"
	"github.com/jamesainslie/go-detscore/labels"
	"github.com/jamesainslie/go-detscore/store"
	"github.com/jamesainslie/go-detscore/store/sqlite"
)

// app carries what every subcommand shares.
type app struct {
	configPath string
	logLevel   string
	model      string
	database   string

	cfg    config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "detscore",
		Short:         "Score object detector output against ground-truth labels",
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return a.load()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", config.DefaultPath, "YAML config file")
	flags.StringVar(&a.logLevel, "log-level", "", "debug, info, warn or error (overrides config)")
	flags.StringVar(&a.model, "model", "", "model identifier records are stored under (overrides config)")
	flags.StringVar(&a.database, "db", "", "SQLite database path (overrides config)")

	root.AddCommand(a.runCmd(), a.rankCmd(), a.showCmd(), a.sweepCmd())
	return root
}

func (a *app) load() error {
	if err := config.LoadDotEnv(); err != nil {
		return err
	}
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	if a.model != "" {
		cfg.Model = a.model
	}
	if a.database != "" {
		cfg.Database = a.database
	}

	logger, err := log.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	a.cfg, a.logger = cfg, logger
	return nil
}

func (a *app) classes() (*labels.ClassMap, error) {
	if len(a.cfg.Classes) == 0 {
		return nil, nil
	}
	return labels.NewClassMap(a.cfg.Classes...)
}

// detector is a Detector that holds resources.
type detector interface {
	detect.Detector
	io.Closer
}

func (a *app) detector(classes *labels.ClassMap) (detector, error) {
	if err := a.cfg.ValidateDetector(); err != nil {
		return nil, err
	}
	if a.cfg.DetectorURL != "" {
		det, err := detect.NewRemote(a.cfg.DetectorURL, classes)
		if err != nil {
			return nil, err
		}
		return det, nil
	}

	inference.SetLibraryPath(a.cfg.ORTLibrary)
	det, err := detect.NewONNX(a.cfg.ModelPath, classes,
		detect.WithInputSize(a.cfg.InputSize),
		detect.WithConfidence(a.cfg.Confidence),
		detect.WithNMSThreshold(a.cfg.NMSThreshold),
		detect.WithPoolSize(a.cfg.Workers),
	)
	if err != nil {
		return nil, err
	}
	return det, nil
}

func (a *app) openStore() (*sqlite.Store, error) {
	return sqlite.Open(a.cfg.Database)
}

func (a *app) labelResolver() detscore.LabelResolver {
	if a.cfg.LabelLayout == config.LayoutDataset {
		return labels.DatasetPath
	}
	return labels.SiblingPath
}

// images discovers the images under dirs, falling back to the configured
// data directories and paths file.
func (a *app) images(dirs []string) ([]string, error) {
	if len(dirs) == 0 {
		dirs = append(dirs, a.cfg.DataDirs...)
		if a.cfg.PathsFile != "" {
			listed, err := config.ReadPathsFile(a.cfg.PathsFile)
			if err != nil {
				return nil, err
			}
			dirs = append(dirs, listed...)
		}
	}
	if len(dirs) == 0 {
		return nil, errors.New("no data directories: pass them as arguments or set data_dirs")
	}
	return detscore.Discover(dirs...)
}

func (a *app) runner(det detect.Detector, st store.Store, classes *labels.ClassMap) (*detscore.Runner, error) {
	return detscore.New(det, st,
		detscore.WithIoUThreshold(a.cfg.IoUThreshold),
		detscore.WithClassMap(classes),
		detscore.WithLabelResolver(a.labelResolver()),
		detscore.WithWorkers(a.cfg.Workers),
		detscore.WithDetectTimeout(a.cfg.DetectTimeout),
		detscore.WithLogger(a.logger),
	)
}
