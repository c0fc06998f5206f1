package main

import (
	"context"
	"log"
	"net"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"biocollab/internal/app"
	"biocollab/pkg/config"
	"biocollab/pkg/logger"
	"biocollab/pkg/shutdown"
)

// build metadata, set via ldflags during release
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	_ = godotenv.Load(".env")
	logger.Init()

	addrVal, dbVal, cfgVal, setFlags := config.ParseCommandFlags()
	cfgPath := config.ResolveConfigPath(cfgVal, setFlags["config"])

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	// flags win over env/config when explicitly set
	if setFlags["addr"] && addrVal != "" {
		host, port, ok := splitHostPort(addrVal)
		if !ok {
			log.Fatalf("invalid -addr %q: want host:port", addrVal)
		}
		cfg.Server.Address = host
		cfg.Server.Port = port
	}
	if setFlags["db"] && dbVal != "" {
		cfg.Server.DBPath = dbVal
	}

	srcs := []string{}
	if len(setFlags) > 0 {
		srcs = append(srcs, "flags")
	}
	if cfgPath != "" {
		srcs = append(srcs, "config")
	}
	srcs = append(srcs, "env")

	a, err := app.New(cfg, strings.Join(srcs, ", "), version, commit, buildDate)
	if err != nil {
		shutdown.Abort("startup failed", err, cfg.Server.DBPath)
	}

	ctx, cancel := shutdown.SetupSignalHandler(context.Background())
	defer cancel()

	if err := a.Run(ctx); err != nil {
		shutdown.Abort("server failed", err, cfg.Server.DBPath)
	}
}

func splitHostPort(addr string) (string, int, bool) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, false
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 {
		return "", 0, false
	}
	return host, port, true
}
