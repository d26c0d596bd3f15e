package migrations

import (
	"io/fs"
	"regexp"
	"strings"
	"testing"
)

var fileName = regexp.MustCompile(`^\d{3}_[a-z0-9_]+\.sql$`)

func TestMigrationFiles(t *testing.T) {
	names, err := fs.Glob(Files, "*.sql")
	if err != nil {
		t.Fatal(err)
	}
	if len(names) == 0 {
		t.Fatal("no migrations embedded")
	}
	seen := map[string]string{}
	for _, name := range names {
		if !fileName.MatchString(name) {
			t.Errorf("%s: want NNN_description.sql", name)
		}
		if prev, dup := seen[name[:3]]; dup {
			t.Errorf("%s and %s share a sequence number", prev, name)
		}
		seen[name[:3]] = name

		data, err := Files.ReadFile(name)
		if err != nil {
			t.Fatal(err)
		}
		if !strings.HasPrefix(string(data), "-- ") {
			t.Errorf("%s should open with a comment describing it", name)
		}
	}
}
