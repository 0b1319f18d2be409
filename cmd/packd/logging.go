package main

import (
	"io"

	"github.com/sirupsen/logrus"
)

// newLogger builds the command logger from the log section of the config.
func newLogger(cfg LogConfig, out io.Writer) (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	log := logrus.New()
	log.Out = out
	log.SetLevel(lvl)
	if cfg.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log, nil
}
