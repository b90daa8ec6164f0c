package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/checkout/internal/storage/postgres"
)

func env(values map[string]string) func(string) string {
	return func(key string) string { return values[key] }
}

func TestParseOptions(t *testing.T) {
	opts, err := parseOptions(flag.NewFlagSet("migrate", flag.ContinueOnError),
		[]string{"-direction= DOWN ", "-steps=2"},
		env(map[string]string{"CHECKOUT_POSTGRES_DSN": " postgres://localhost/checkout "}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.direction != "down" || opts.steps != 2 || opts.dsn != "postgres://localhost/checkout" {
		t.Fatalf("unexpected options: %+v", opts)
	}
}

func TestParseOptions_Errors(t *testing.T) {
	cases := []struct {
		args []string
		want string
	}{
		{args: nil, want: "is required"},
		{args: []string{"-dsn=x", "-direction=sideways"}, want: "unsupported direction"},
		{args: []string{"-dsn=x", "-steps=-1"}, want: "steps must be >= 0"},
	}

	for _, tc := range cases {
		_, err := parseOptions(flag.NewFlagSet("migrate", flag.ContinueOnError), tc.args, env(nil))
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("args %v: expected %q, got %v", tc.args, tc.want, err)
		}
	}
}

type stubMigrator struct {
	calls  []string
	steps  int
	failOn string
	state  postgres.MigrationState
}

func (s *stubMigrator) call(name string, steps int) error {
	s.calls = append(s.calls, name)
	s.steps = steps
	if s.failOn == name {
		return errors.New(name + " boom")
	}
	return nil
}

func (s *stubMigrator) MigrateUp(_ context.Context, steps int) error   { return s.call("up", steps) }
func (s *stubMigrator) MigrateDown(_ context.Context, steps int) error { return s.call("down", steps) }

func (s *stubMigrator) MigrationStatus(context.Context) (postgres.MigrationState, error) {
	if err := s.call("status", s.steps); err != nil {
		return postgres.MigrationState{}, err
	}
	return s.state, nil
}

func TestRun(t *testing.T) {
	m := &stubMigrator{state: postgres.MigrationState{Version: 3, Applied: 3, Known: 4}}
	var out bytes.Buffer

	if err := run(context.Background(), options{direction: "up", steps: 1}, m, &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Join(m.calls, ",") != "up,status" || m.steps != 1 {
		t.Fatalf("unexpected calls: %v steps=%d", m.calls, m.steps)
	}
	if got := out.String(); got != "migrate up ok: version=3 applied=3 pending=1\n" {
		t.Fatalf("unexpected output: %q", got)
	}

	m = &stubMigrator{}
	if err := run(context.Background(), options{direction: "status"}, m, &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Join(m.calls, ",") != "status" {
		t.Fatalf("status must not migrate: %v", m.calls)
	}
}

func TestRun_Errors(t *testing.T) {
	for _, failOn := range []string{"down", "status"} {
		m := &stubMigrator{failOn: failOn}
		err := run(context.Background(), options{direction: "down"}, m, &bytes.Buffer{})
		if err == nil || !strings.Contains(err.Error(), failOn+" boom") {
			t.Fatalf("expected %s failure, got %v", failOn, err)
		}
	}
}

func TestRun_AgainstPostgres(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("CHECKOUT_POSTGRES_TEST_DSN"))
	if dsn == "" {
		t.Skip("CHECKOUT_POSTGRES_TEST_DSN is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := postgres.Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	defer store.Close()

	var out bytes.Buffer
	for _, direction := range []string{"up", "status", "down", "up"} {
		if err := run(ctx, options{direction: direction}, store, &out); err != nil {
			t.Fatalf("%s: %v", direction, err)
		}
	}
}

func TestFailExits(t *testing.T) {
	if os.Getenv("MIGRATE_TEST_FAIL_EXIT") == "1" {
		fail("forced failure %d", 42)
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=TestFailExits")
	cmd.Env = append(os.Environ(), "MIGRATE_TEST_FAIL_EXIT=1")
	err := cmd.Run()
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) || exitErr.ExitCode() == 0 {
		t.Fatalf("expected non-zero exit code, got %v", err)
	}
}
