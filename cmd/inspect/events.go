package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"

	"tileworld.ai/internal/persistence/worlddir"
	"tileworld.ai/internal/worldgen/pipeline"
)

func eventsCmd(args []string) {
	fs := flag.NewFlagSet("events", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id")
	typ := fs.String("type", "", "print events of this type (e.g. ROAD_REPAIR)")
	_ = fs.Parse(args)

	if strings.TrimSpace(*worldID) == "" {
		fmt.Fprintln(os.Stderr, "missing -world")
		os.Exit(2)
	}
	files, err := listEventFiles(filepath.Join(worlddir.Path(*dataDir, *worldID), "events"))
	if err != nil {
		fail("list events", err)
	}
	counts := map[string]int{}
	for _, path := range files {
		err := scanEvents(path, func(e pipeline.Event, line []byte) {
			counts[e.Type]++
			if *typ != "" && e.Type == *typ {
				fmt.Println(string(line))
			}
		})
		if err != nil {
			fail("events", err)
		}
	}
	types := make([]string, 0, len(counts))
	for t := range counts {
		types = append(types, t)
	}
	sort.Strings(types)
	fmt.Printf("files=%d\n", len(files))
	for _, t := range types {
		fmt.Printf("  %-16s %d\n", t, counts[t])
	}
}

func listEventFiles(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, "events-") && strings.HasSuffix(name, ".jsonl.zst") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, filepath.Join(dir, name))
	}
	return out, nil
}

func scanEvents(path string, fn func(e pipeline.Event, line []byte)) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		var e pipeline.Event
		if err := json.Unmarshal(line, &e); err != nil {
			return fmt.Errorf("%s: unmarshal: %w", filepath.Base(path), err)
		}
		fn(e, line)
	}
	return sc.Err()
}
