package migrate

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/multierr"
)

var (
	migrationFileRe = regexp.MustCompile(`^(\d{14})_[a-z0-9_]+\.sql$`)
	concurrentlyRe  = regexp.MustCompile(`(?i)\bINDEX\s+CONCURRENTLY\b`)
)

const (
	markerUp            = "-- +goose Up"
	markerDown          = "-- +goose Down"
	markerBegin         = "-- +goose StatementBegin"
	markerEnd           = "-- +goose StatementEnd"
	markerNoTransaction = "-- +goose NO TRANSACTION"
)

// ValidateDir checks every .sql file in dir and reports all problems at once.
// Postgres refuses CREATE INDEX CONCURRENTLY inside a transaction, so such
// files must opt out of goose's wrapping transaction.
func ValidateDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("dir is required")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read dir %q: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var errs error
	versions := map[string]string{}
	for _, name := range names {
		m := migrationFileRe.FindStringSubmatch(name)
		if m == nil {
			errs = multierr.Append(errs, fmt.Errorf("invalid migration filename %q (expected YYYYMMDDHHMMSS_name.sql)", name))
			continue
		}
		if prev, dup := versions[m[1]]; dup {
			errs = multierr.Append(errs, fmt.Errorf("duplicate migration version %s in %q and %q", m[1], prev, name))
		}
		versions[m[1]] = name

		body, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("read %q: %w", name, err))
			continue
		}
		errs = multierr.Append(errs, checkMigration(name, string(body)))
	}
	return errs
}

func checkMigration(name, body string) error {
	var errs error
	up := strings.Index(body, markerUp)
	down := strings.Index(body, markerDown)
	switch {
	case up < 0:
		errs = multierr.Append(errs, fmt.Errorf("%s: missing %q", name, markerUp))
	case down < 0:
		errs = multierr.Append(errs, fmt.Errorf("%s: missing %q", name, markerDown))
	case down < up:
		errs = multierr.Append(errs, fmt.Errorf("%s: Down section precedes Up", name))
	}
	if strings.Count(body, markerBegin) != strings.Count(body, markerEnd) {
		errs = multierr.Append(errs, fmt.Errorf("%s: unbalanced StatementBegin/StatementEnd", name))
	}
	if concurrentlyRe.MatchString(body) && !strings.Contains(body, markerNoTransaction) {
		errs = multierr.Append(errs, fmt.Errorf("%s: INDEX CONCURRENTLY requires %q", name, markerNoTransaction))
	}
	return errs
}
