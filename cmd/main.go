// Maintenance CLI for a weekblock store: validate or rebuild the location
// index, or provision upcoming blocks, against a local store directory.
//
//	weekblock -dir ./store -scopes scopes.json validate
//	weekblock -dir ./store -scopes scopes.json rebuild
//	weekblock -dir ./store -scopes scopes.json provision
//
// The scopes file maps scope names to their current rosters:
//
//	{"team-alpha": ["AB", "CD"], "team-beta": []}
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/rosterd/weekblock"
	"github.com/rosterd/weekblock/utils"
)

type fileDirectory map[string][]string

func (d fileDirectory) Exists(scope string) (bool, error) {
	_, ok := d[scope]
	return ok, nil
}

func (d fileDirectory) ActiveScopes() ([]string, error) {
	out := make([]string, 0, len(d))
	for scope := range d {
		out = append(out, scope)
	}
	return out, nil
}

func (d fileDirectory) Roster(scope string) ([]string, error) {
	return d[scope], nil
}

func loadScopes(path string) (fileDirectory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var d fileDirectory
	if err = json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("bad scopes file %s: %w", path, err)
	}
	return d, nil
}

func main() {
	dir := flag.String("dir", "", "store directory")
	scopesPath := flag.String("scopes", "", "JSON file mapping scopes to rosters")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	if *dir == "" || *scopesPath == "" || flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: weekblock -dir DIR -scopes FILE validate|rebuild|provision")
		os.Exit(2)
	}
	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	scopes, err := loadScopes(*scopesPath)
	if err != nil {
		fatal(err)
	}
	store, err := weekblock.Open(*dir, scopes, scopes, weekblock.Options{
		Logger: utils.NewDefaultLogger(level),
	})
	if err != nil {
		fatal(err)
	}
	defer store.Close()

	ctx := context.Background()
	switch flag.Arg(0) {
	case "validate":
		rep, err := store.Validate(ctx)
		if err != nil {
			fatal(err)
		}
		dump(rep)
	case "rebuild":
		rep, err := store.Rebuild(ctx)
		if err != nil {
			fatal(err)
		}
		dump(rep)
	case "provision":
		created, err := store.ProvisionUpcoming(ctx, time.Now())
		if err != nil {
			fatal(err)
		}
		dump(map[string]int{"created": created})
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", flag.Arg(0))
		os.Exit(2)
	}
}

func dump(v any) {
	out, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(out))
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err.Error())
	os.Exit(1)
}
