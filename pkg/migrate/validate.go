package migrate

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"regexp"
	"strings"

	"go.uber.org/multierr"
)

var migrationName = regexp.MustCompile(`^(\d{14})_[a-z0-9_]+\.sql$`)

var requiredDirectives = []string{"-- +goose Up", "-- +goose Down"}

// ValidateDir checks the migrations in dir on disk.
func ValidateDir(dir string) error {
	if strings.TrimSpace(dir) == "" {
		return errors.New("migration dir is required")
	}
	return ValidateFS(os.DirFS(dir))
}

// ValidateFS checks every .sql file in fsys: the name carries a unique
// 14-digit version and the body has both goose directives. All problems are
// reported together.
func ValidateFS(fsys fs.FS) error {
	matches, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	if len(matches) == 0 {
		return errors.New("no migrations found")
	}

	var problems error
	versions := make(map[string]string, len(matches))
	for _, name := range matches {
		m := migrationName.FindStringSubmatch(path.Base(name))
		if m == nil {
			problems = multierr.Append(problems, fmt.Errorf("%s: name must look like YYYYMMDDHHMMSS_name.sql", name))
			continue
		}
		if prev, dup := versions[m[1]]; dup {
			problems = multierr.Append(problems, fmt.Errorf("%s: version %s already used by %s", name, m[1], prev))
		}
		versions[m[1]] = name

		body, err := fs.ReadFile(fsys, name)
		if err != nil {
			problems = multierr.Append(problems, fmt.Errorf("%s: %w", name, err))
			continue
		}
		for _, directive := range requiredDirectives {
			if !strings.Contains(string(body), directive) {
				problems = multierr.Append(problems, fmt.Errorf("%s: missing %q", name, directive))
			}
		}
	}
	return problems
}
