// Command inspect dumps the contents of a data directory or a sync queue
// journal for debugging. It must not run against a directory a live server
// has open.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"biocollab/pkg/logger"
	"biocollab/pkg/offline"
	"biocollab/pkg/registry"
	"biocollab/pkg/store"
)

func main() {
	var dbPath, syncDir string
	flag.StringVar(&dbPath, "db", "", "pebble data dir to dump sessions from")
	flag.StringVar(&syncDir, "sync", "", "sync queue dir to dump pending actions from")
	flag.Parse()
	if dbPath == "" && syncDir == "" {
		fmt.Fprintln(os.Stderr, "one of --db or --sync is required")
		os.Exit(2)
	}
	logger.Init()

	if dbPath != "" {
		if err := dumpSessions(dbPath); err != nil {
			fmt.Fprintf(os.Stderr, "dump sessions: %v\n", err)
			os.Exit(1)
		}
	}
	if syncDir != "" {
		if err := dumpQueue(syncDir); err != nil {
			fmt.Fprintf(os.Stderr, "dump queue: %v\n", err)
			os.Exit(1)
		}
	}
}

func dumpSessions(dbPath string) error {
	if err := store.Open(dbPath); err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	reg := registry.New()
	page, err := reg.ListSessions(registry.Filter{PageSize: 1000})
	if err != nil {
		return err
	}
	fmt.Printf("sessions: %d\n", page.Total)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	for _, s := range page.Sessions {
		if err := enc.Encode(s); err != nil {
			return err
		}
	}
	return nil
}

func dumpQueue(dir string) error {
	q, err := offline.OpenQueue(dir)
	if err != nil {
		return err
	}
	defer func() { _ = q.Close() }()

	pending := q.Pending()
	fmt.Printf("pending actions: %d\n", len(pending))
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	for _, a := range pending {
		if err := enc.Encode(a); err != nil {
			return err
		}
	}
	return nil
}
