package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/matheus3301/sigstate/internal/api"
	"github.com/matheus3301/sigstate/internal/config"
	"github.com/matheus3301/sigstate/internal/datadir"
)

func main() {
	accountFlag := flag.String("account", "", "account number (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	// Commands that do not talk to a daemon.
	switch args[0] {
	case "accounts":
		cmdAccounts()
		return
	case "config":
		if len(args) < 2 || args[1] != "init" {
			fmt.Fprintln(os.Stderr, "usage: sigctl config init")
			os.Exit(1)
		}
		cmdConfigInit(*accountFlag)
		return
	}

	account, err := datadir.Resolve(*accountFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	c, err := api.Dial(datadir.SocketPath(account))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot connect to daemon for account %q: %v\n", account, err)
		os.Exit(1)
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var resp *structpb.Struct
	switch args[0] {
	case "status":
		resp, err = c.Control.Status(ctx)
	case "save":
		resp, err = c.Control.Save(ctx)
	case "receive":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: sigctl receive <start|stop>")
			os.Exit(1)
		}
		switch args[1] {
		case "start":
			resp, err = c.Control.StartReceiving(ctx)
		case "stop":
			resp, err = c.Control.StopReceiving(ctx)
		default:
			fmt.Fprintf(os.Stderr, "unknown receive subcommand: %s\n", args[1])
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if *jsonFlag {
		outputJSON(resp)
		return
	}
	printFields(resp)
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: sigctl [--account <number>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status           Show account and receiver status")
	fmt.Fprintln(os.Stderr, "  receive start    Start the receive loop")
	fmt.Fprintln(os.Stderr, "  receive stop     Stop the receive loop")
	fmt.Fprintln(os.Stderr, "  save             Persist account state now")
	fmt.Fprintln(os.Stderr, "  accounts         List accounts with local state")
	fmt.Fprintln(os.Stderr, "  config init      Write a default config file")
}

func cmdAccounts() {
	entries, err := os.ReadDir(datadir.AccountDir(""))
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Println("No accounts found.")
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	for _, e := range entries {
		if !e.IsDir() || datadir.ValidateHandle(e.Name()) != nil {
			continue
		}
		running := "stopped"
		if _, err := os.Stat(datadir.SocketPath(e.Name())); err == nil {
			running = "running"
		}
		fmt.Printf("%-18s %s (%s)\n", e.Name(), datadir.AccountDir(e.Name()), running)
	}
}

func cmdConfigInit(defaultAccount string) {
	path := datadir.ConfigPath()
	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(os.Stderr, "error: %s already exists\n", path)
		os.Exit(1)
	}
	cfg := config.Default()
	cfg.DefaultAccount = defaultAccount
	if err := config.Save(path, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Wrote %s\n", path)
}

func printFields(s *structpb.Struct) {
	fields := s.GetFields()
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("%-24s %v\n", k+":", fields[k].AsInterface())
	}
}

func outputJSON(s *structpb.Struct) {
	out, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(s)
	if err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
		return
	}
	fmt.Println(string(out))
}
