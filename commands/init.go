package commands

import (
	"context"

	"github.com/sirupsen/logrus"

	"peerage/config"
	"peerage/nid"
)

var log = logrus.New()

// RunInit generates a fresh node identity and writes the initial config file.
func RunInit(ctx context.Context, cfg *config.Config) {
	id, err := nid.Random()
	if err != nil {
		log.Fatalf("Failed to generate node identity: %v", err)
	}
	cfg.Node.NodeID = id

	log.Infof("Generated node identity %s", id.String())

	if err := cfg.Save(); err != nil {
		log.Fatalf("Failed to save config: %v", err)
	}
}
