package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"syscall"

	"medscribe/internal/apiclient"
	"medscribe/internal/config"
)

type globalFlags struct {
	config    string
	api       string
	token     string
	submitter string
	json      bool
}

type commandContext struct {
	flags *globalFlags

	configOnce sync.Once
	config     *config.Config
	configPath string
	configErr  error
}

func newCommandContext(flags *globalFlags) *commandContext {
	return &commandContext{flags: flags}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, path, _, err := config.Load(strings.TrimSpace(c.flags.config))
		if err != nil {
			c.configErr = fmt.Errorf("load config: %w", err)
			return
		}
		c.config = cfg
		c.configPath = path
	})
	return c.config, c.configErr
}

// client builds an API client. The --api flag bypasses the config file.
func (c *commandContext) client() (*apiclient.Client, error) {
	addr := strings.TrimSpace(c.flags.api)
	token := strings.TrimSpace(c.flags.token)
	if addr == "" {
		cfg, err := c.ensureConfig()
		if err != nil {
			return nil, err
		}
		addr = cfg.Paths.APIBind
		if token == "" {
			token = cfg.Paths.APIToken
		}
	}
	if token == "" {
		token = os.Getenv("MEDSCRIBE_API_TOKEN")
	}
	submitter := strings.TrimSpace(c.flags.submitter)
	if submitter == "" {
		submitter = os.Getenv("USER")
	}
	return apiclient.New(addr,
		apiclient.WithToken(token),
		apiclient.WithSubmitter(submitter),
	)
}

func (c *commandContext) jsonOutput() bool {
	return c.flags.json
}

func wrapDialError(err error) error {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return fmt.Errorf("connect to daemon: connection refused; start it with `medscribe serve`")
	}
	return err
}
