package migrate

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"strings"
)

var migrationName = regexp.MustCompile(`^(\d{14})_[a-z0-9_]+\.sql$`)

// Validate checks every .sql file in migrations: a timestamped snake_case
// name, a unique version, both goose sections and balanced statement blocks.
func Validate(migrations fs.FS) error {
	files, err := fs.Glob(migrations, "*.sql")
	if err != nil {
		return err
	}
	versions := make(map[string]string, len(files))
	var problems []error
	for _, name := range files {
		m := migrationName.FindStringSubmatch(path.Base(name))
		if m == nil {
			problems = append(problems, fmt.Errorf("%s: want YYYYMMDDHHMMSS_snake_name.sql", name))
			continue
		}
		if prev, dup := versions[m[1]]; dup {
			problems = append(problems, fmt.Errorf("%s: duplicate version %s, also used by %s", name, m[1], prev))
		}
		versions[m[1]] = name

		body, err := fs.ReadFile(migrations, name)
		if err != nil {
			return err
		}
		if err := checkAnnotations(string(body)); err != nil {
			problems = append(problems, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(problems...)
}

func checkAnnotations(body string) error {
	up := strings.Index(body, "-- +goose Up")
	down := strings.Index(body, "-- +goose Down")
	switch {
	case up < 0:
		return errors.New(`missing "-- +goose Up"`)
	case down < 0:
		return errors.New(`missing "-- +goose Down"`)
	case down < up:
		return errors.New("down section precedes up section")
	}
	if begins, ends := strings.Count(body, "-- +goose StatementBegin"), strings.Count(body, "-- +goose StatementEnd"); begins != ends {
		return fmt.Errorf("%d StatementBegin but %d StatementEnd", begins, ends)
	}
	return nil
}
