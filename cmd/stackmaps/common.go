package main

import (
	"flag"
	"os"

	"github.com/sirupsen/logrus"

	"stackmaps/internal/elfx"
	"stackmaps/internal/logger"
	"stackmaps/internal/logger/logfields"
	"stackmaps/internal/objfile"
	"stackmaps/internal/smfmt"
	"stackmaps/internal/stackmap"
)

// commonFlags are registered on every subcommand.
type commonFlags struct {
	section      *string
	countAllPads *bool
	logLevel     *string
	logFormat    *string
}

func addCommonFlags(fs *flag.FlagSet) *commonFlags {
	return &commonFlags{
		section:      fs.String("section", objfile.SectionName, "stackmap section name"),
		countAllPads: fs.Bool("count-all-pads", false, "count the post-location pad in the alignment offset"),
		logLevel:     fs.String("log-level", "info", "log level"),
		logFormat:    fs.String("log-format", string(logger.LogFormatText), "log format: text or json"),
	}
}

// setup configures logging and returns the logger for cmd.
func (c *commonFlags) setup(cmd string) (logrus.FieldLogger, error) {
	if err := logger.SetupLogging(*c.logLevel, *c.logFormat, os.Stderr); err != nil {
		return nil, err
	}
	return logger.GetLogger().WithField(logfields.LogSubsys, cmd), nil
}

func (c *commonFlags) padding() smfmt.PadMode {
	if *c.countAllPads {
		return smfmt.PadCounted
	}
	return smfmt.PadUncounted
}

func (c *commonFlags) loadOptions(log logrus.FieldLogger) objfile.Options {
	return objfile.Options{
		Options: smfmt.Options{Padding: c.padding()},
		Section: *c.section,
		Log:     log,
	}
}

// loadELF opens path and decodes its stackmap section. The caller closes
// the returned file.
func (c *commonFlags) loadELF(path string, log logrus.FieldLogger) (*elfx.File, []stackmap.StackMap, error) {
	ef, err := elfx.Open(path)
	if err != nil {
		return nil, nil, err
	}
	maps, err := objfile.LoadFile(ef, c.loadOptions(log.WithField(logfields.Path, path)))
	if err != nil {
		ef.Close()
		return nil, nil, err
	}
	log.WithFields(logrus.Fields{
		logfields.Path:      path,
		logfields.Machine:   ef.Machine().String(),
		logfields.StackMaps: len(maps),
	}).Info("decoded stackmap section")
	return ef, maps, nil
}
