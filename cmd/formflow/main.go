package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

type Globals struct {
	Config string `short:"c" type:"path" env:"FORMFLOW_CONFIG" help:"Settings file (yaml, json or toml)."`
}

type cli struct {
	Globals

	Serve   serveCmd   `cmd:"" default:"1" help:"Serve the document API."`
	Check   checkCmd   `cmd:"" help:"Validate definition files without publishing them."`
	Version versionCmd `cmd:"" help:"Print the version."`
}

type versionCmd struct{}

func (versionCmd) Run() error {
	fmt.Fprintln(os.Stdout, "formflow", version)
	return nil
}

func main() {
	var root cli
	ctx := kong.Parse(&root,
		kong.Name("formflow"),
		kong.Description("Versioned forms with workflow-driven documents."),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run(&root.Globals))
}
