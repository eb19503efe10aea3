package main

import (
	"context"
	"fmt"
	"os"

	"github.com/goliatone/go-formflow/config"
	"github.com/goliatone/go-formflow/logging"
	"github.com/goliatone/go-formflow/schema"
	"github.com/goliatone/go-formflow/service"
	"github.com/goliatone/go-formflow/store"
)

// checkCmd publishes the definition files into a scratch registry so every
// schema issue is reported without touching a real store.
type checkCmd struct {
	Paths []string `arg:"" type:"path" help:"Definition files or directories."`
}

func (c *checkCmd) Run(_ *Globals) error {
	set, err := config.LoadDefinitions(c.Paths...)
	if err != nil {
		return err
	}
	svc := service.New(schema.NewRegistry(), store.NewMemoryStore(), service.WithLogger(logging.Nop{}))
	report, err := config.Publish(context.Background(), svc, set)
	for _, ref := range report.Published {
		fmt.Fprintln(os.Stdout, "ok  ", ref)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "%d definitions valid\n", len(report.Published))
	return nil
}
