package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"bggsync/internal/config"
	"bggsync/internal/core/bgg"
	"bggsync/internal/core/catalog"
	"bggsync/internal/core/job"
	"bggsync/internal/core/match"
	"bggsync/internal/core/upc"
	"bggsync/internal/logger"
	rds "bggsync/internal/platform/redis"
	"bggsync/internal/platform/storage"
)

// commandContext loads configuration once, on first use, so commands that
// fail flag validation never touch the network.
type commandContext struct {
	rulesFlag *string
	jsonFlag  *bool

	once   sync.Once
	cfg    config.Config
	cfgErr error
}

func newCommandContext(rules *string, jsonOut *bool) *commandContext {
	return &commandContext{rulesFlag: rules, jsonFlag: jsonOut}
}

func (c *commandContext) jsonOutput() bool { return c.jsonFlag != nil && *c.jsonFlag }

func (c *commandContext) config() (config.Config, error) {
	c.once.Do(func() {
		if c.rulesFlag != nil && *c.rulesFlag != "" {
			_ = os.Setenv("CATEGORY_RULES_FILE", *c.rulesFlag)
		}
		c.cfg, c.cfgErr = config.LoadE()
	})
	return c.cfg, c.cfgErr
}

func (c *commandContext) matchEngine(cfg config.Config) (*match.Engine, error) {
	client, err := bgg.FromConfig(cfg)
	if err != nil {
		return nil, err
	}
	return match.New(client, upc.New(cfg.UPCBaseURL, cfg.UPCAPIKey), logger.New("MatchEngine")), nil
}

func (c *commandContext) catalogClient(cfg config.Config) *catalog.Client {
	var archive catalog.Archiver
	if a, err := storage.New(cfg); err != nil {
		logger.New("bggsync").LogWarnf("asset archive disabled: %v", err)
	} else if a != nil {
		archive = a
	}
	return catalog.FromConfig(cfg, archive)
}

func (c *commandContext) redis(cfg config.Config) (*rds.Service, error) {
	svc, err := rds.New(rds.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	if err != nil {
		return nil, fmt.Errorf("connect redis at %s: %w", cfg.RedisAddr, err)
	}
	return svc, nil
}

func (c *commandContext) jobService(cfg config.Config, svc *rds.Service) *job.JobService {
	return job.NewJobService(svc, cfg.RunRecordTTL)
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
