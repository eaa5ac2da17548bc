// Command housekeeper is a terminal client for the criteria service. It keeps
// a local copy of every house so edits work offline.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/denisok6893-rgb/open-house/internal/config"
)

const usage = `usage: housekeeper [-config file] <command> [args]

commands:
  register <email> <password>
  login <email> <password>
  logout
  add-house [-local] <name> [address]
  houses
  show <house>
  set <house> <criterion-id> <value>
  add <house> <category> <binary|ternary> <name>
  remove <house> <criterion-id>
  move <house> <category> <from> <to>

<house> is a service id or a local key.
`

func main() {
	configPath := flag.String("config", getEnv("CONFIG_PATH", "configs/config.yaml"), "path to the YAML config")
	flag.Usage = func() { fmt.Fprint(flag.CommandLine.Output(), usage) }
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := config.NewLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a, err := newApp(cfg, os.Stdout, logger)
	if err != nil {
		log.Fatalf("start: %v", err)
	}
	err = a.run(ctx, flag.Args())
	a.close()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
