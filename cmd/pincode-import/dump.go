package main

import (
	"context"
	"encoding/csv"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"
)

const progressEvery = 50_000

// record is one pincodes row.
type record struct {
	zipcode string
	state   string
	city    string
	days    int
}

// Header aliases, lower-case. The India Post directory uses the first
// spelling of each.
var columnAliases = map[string][]string{
	"zipcode": {"pincode", "zipcode", "zip"},
	"state":   {"statename", "state"},
	"city":    {"district", "districtname", "city"},
	"days":    {"deliverydays", "estimated_delivery_days"},
}

// listDumps returns the *.csv.gz files in dir, sorted so that earlier files
// win on duplicate pincodes.
func listDumps(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.csv.gz"))
	if err != nil {
		return nil, errors.Wrap(err, "glob dumps")
	}
	if len(files) == 0 {
		return nil, errors.Errorf("no *.csv.gz files in %s", dir)
	}
	sort.Strings(files)
	return files, nil
}

// parseFiles decodes every file concurrently.
func parseFiles(ctx context.Context, files []string, defaultDays int) ([][]record, error) {
	results := make([][]record, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(func() error {
			recs, err := parseFile(ctx, f, defaultDays)
			if err != nil {
				return errors.Wrapf(err, "parse %s", filepath.Base(f))
			}
			results[i] = recs
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// parseFile reads a gzipped CSV dump. A pincode listed for several post
// offices keeps its first row.
func parseFile(ctx context.Context, path string, defaultDays int) ([]record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open")
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return nil, errors.Wrap(err, "create gzip reader")
	}
	defer func() { _ = gz.Close() }()

	r := csv.NewReader(gz)
	r.FieldsPerRecord = -1
	r.ReuseRecord = true

	header, err := r.Read()
	if err != nil {
		return nil, errors.Wrap(err, "read header")
	}
	cols, err := mapColumns(header)
	if err != nil {
		return nil, err
	}

	var (
		out     []record
		seen    = make(map[string]struct{})
		rows    int
		skipped int
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "read row")
		}
		rows++
		if rows%progressEvery == 0 {
			slog.Info("parse progress", slog.String("file", filepath.Base(path)), slog.Int("rows", rows))
		}

		rec, ok := cols.record(row, defaultDays)
		if !ok {
			skipped++
			continue
		}
		if _, dup := seen[rec.zipcode]; dup {
			continue
		}
		seen[rec.zipcode] = struct{}{}
		out = append(out, rec)
	}

	slog.Info("parse complete",
		slog.String("file", filepath.Base(path)),
		slog.Int("rows", rows),
		slog.Int("pincodes", len(out)),
		slog.Int("skipped", skipped),
	)
	return out, nil
}

type columns struct {
	zipcode, state, city, days int
}

func mapColumns(header []string) (columns, error) {
	index := make(map[string]int, len(header))
	for i, h := range header {
		index[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	lookup := func(name string) int {
		for _, alias := range columnAliases[name] {
			if i, ok := index[alias]; ok {
				return i
			}
		}
		return -1
	}
	c := columns{
		zipcode: lookup("zipcode"),
		state:   lookup("state"),
		city:    lookup("city"),
		days:    lookup("days"),
	}
	if c.zipcode < 0 || c.state < 0 || c.city < 0 {
		return c, errors.Errorf("header %v lacks pincode, state or city column", header)
	}
	return c, nil
}

func (c columns) record(row []string, defaultDays int) (record, bool) {
	field := func(i int) string {
		if i < 0 || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}
	rec := record{
		zipcode: field(c.zipcode),
		state:   titleCase(field(c.state)),
		city:    titleCase(field(c.city)),
		days:    defaultDays,
	}
	if !isPincode(rec.zipcode) || rec.state == "" || rec.city == "" {
		return rec, false
	}
	if v := field(c.days); v != "" {
		days, err := strconv.Atoi(v)
		if err != nil || days < 0 {
			return rec, false
		}
		rec.days = days
	}
	return rec, true
}

func isPincode(s string) bool {
	if len(s) != 6 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// titleCase turns "TAMIL NADU" into "Tamil Nadu"; dumps are upper-case.
func titleCase(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// merge concatenates per-file results, the first file winning on duplicates.
func merge(perFile [][]record) []record {
	var (
		out  []record
		seen = make(map[string]struct{})
	)
	for _, recs := range perFile {
		for _, rec := range recs {
			if _, dup := seen[rec.zipcode]; dup {
				continue
			}
			seen[rec.zipcode] = struct{}{}
			out = append(out, rec)
		}
	}
	return out
}

// partition splits records into ones certainly absent from existing, which
// can be copied straight into the table, and ones that may already exist and
// must be upserted.
func partition(records []record, existing *bloom.BloomFilter) (fresh, known []record) {
	for _, rec := range records {
		if existing.TestString(rec.zipcode) {
			known = append(known, rec)
		} else {
			fresh = append(fresh, rec)
		}
	}
	return fresh, known
}
