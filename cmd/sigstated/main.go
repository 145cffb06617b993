package main

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"

	"go.uber.org/fx"

	"github.com/matheus3301/sigstate/internal/config"
	"github.com/matheus3301/sigstate/internal/daemon"
	"github.com/matheus3301/sigstate/internal/datadir"
)

func main() {
	accountFlag := flag.String("account", "", "account number (overrides config default)")
	configFlag := flag.String("config", "", "config file (default ~/.sigstate/config.toml)")
	importFlag := flag.String("import", "", "import an exported account document before starting")
	flag.Parse()

	account, err := datadir.Resolve(*accountFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	configPath := *configFlag
	if configPath == "" {
		configPath = datadir.ConfigPath()
	}
	cfg, err := config.Load(configPath)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// No protocol engine is linked into this binary; the daemon serves the
	// stored state and the control socket only.
	app := fx.New(
		daemon.Module(daemon.Params{
			Account:    account,
			ImportPath: *importFlag,
			Config:     cfg,
		}),
	)

	app.Run()
}
