package repo

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
)

//go:embed migrations
var migrationsFS embed.FS

// Execer runs one SQL statement.
type Execer func(ctx context.Context, stmt string) error

// Migrate applies the embedded schema for driver ("mysql" or "postgres"),
// one statement at a time in file order. Statements are idempotent.
func Migrate(ctx context.Context, driver string, exec Execer) (int, error) {
	stmts, err := Statements(driver)
	if err != nil {
		return 0, err
	}
	for i, s := range stmts {
		if err := exec(ctx, s); err != nil {
			return i, fmt.Errorf("migrate %s statement %d: %w", driver, i+1, err)
		}
	}
	return len(stmts), nil
}

// Statements returns the embedded schema for driver split into statements.
func Statements(driver string) ([]string, error) {
	dir := "migrations/" + driver
	entries, err := fs.ReadDir(migrationsFS, dir)
	if err != nil {
		return nil, fmt.Errorf("no migrations for driver %q", driver)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var out []string
	for _, n := range names {
		b, err := migrationsFS.ReadFile(dir + "/" + n)
		if err != nil {
			return nil, err
		}
		for _, s := range strings.Split(string(b), ";") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out, nil
}
