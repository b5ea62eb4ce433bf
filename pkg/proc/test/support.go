package test

import (
	"os"
	"path/filepath"
	"testing"
)

// Fixture is a snapshot of a stopped process.
type Fixture struct {
	// Name is the short name of the fixture.
	Name string
	// Path is the absolute path to the snapshot.
	Path string
	// Source is the absolute path of the program the snapshot was taken
	// from.
	Source string
}

// FindFixturesDir returns the path of the _fixtures directory, searching
// the parents of the current directory.
func FindFixturesDir() string {
	parent := ".."
	fixturesDir := "_fixtures"
	for depth := 0; depth < 10; depth++ {
		if _, err := os.Stat(fixturesDir); err == nil {
			break
		}
		fixturesDir = filepath.Join(parent, fixturesDir)
	}
	return fixturesDir
}

// LoadFixture returns the snapshot _fixtures/snapshots/<name>.yml, taken
// from the program _fixtures/<source>.
func LoadFixture(t testing.TB, name, source string) Fixture {
	t.Helper()
	dir, err := filepath.Abs(FindFixturesDir())
	if err != nil {
		t.Fatal(err)
	}
	f := Fixture{
		Name:   name,
		Path:   filepath.Join(dir, "snapshots", name+".yml"),
		Source: filepath.Join(dir, source),
	}
	if _, err := os.Stat(f.Path); err != nil {
		t.Fatalf("fixture %s: %v", name, err)
	}
	return f
}

// ThreadLocal returns the snapshot stopped after the initialization of the
// thread-local variables of thread_local.cpp.
func ThreadLocal(t testing.TB) Fixture {
	return LoadFixture(t, "thread_local", "thread_local.cpp")
}

// ThreadLocalPreinit returns the snapshot stopped at the first instruction
// of main in thread_local.cpp.
func ThreadLocalPreinit(t testing.TB) Fixture {
	return LoadFixture(t, "thread_local_preinit", "thread_local.cpp")
}
