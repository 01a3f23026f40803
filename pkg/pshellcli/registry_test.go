package pshellcli_test

import (
	"errors"
	"testing"

	"github.com/dgrid-labs/pshell/pkg/pshellcli"
)

func noop(ctx *pshellcli.Context) error { return nil }

func TestAddValidation(t *testing.T) {
	cases := []struct {
		name                          string
		cmdName, desc, usage         string
		minArgs, maxArgs             int
		wantErr                       error
	}{
		{"empty name", "", "desc", "", 0, 0, pshellcli.ErrInvalidArgument},
		{"whitespace in name", "foo bar", "desc", "", 0, 0, pshellcli.ErrInvalidArgument},
		{"empty description", "foo", "", "", 0, 0, pshellcli.ErrInvalidArgument},
		{"min > max with max > 0", "foo", "desc", "<x>", 3, 1, pshellcli.ErrInvalidArgument},
		{"usage on zero-arg command", "foo", "desc", "<x>", 0, 0, pshellcli.ErrInvalidArgument},
		{"missing usage with args", "foo", "desc", "", 1, 2, pshellcli.ErrInvalidArgument},
		{"valid zero-arg", "foo", "desc", "", 0, 0, nil},
		{"valid with args", "foo", "desc", "<x>", 1, 2, nil},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			r := pshellcli.NewRegistry()
			err := r.Add(c.cmdName, c.desc, c.usage, c.minArgs, c.maxArgs, true, noop)
			if c.wantErr == nil && err != nil {
				t.Fatalf("Add() = %v, want nil", err)
			}
			if c.wantErr != nil && !errors.Is(err, c.wantErr) {
				t.Fatalf("Add() = %v, want %v", err, c.wantErr)
			}
		})
	}
}

func TestAddRaisesMaxArgsToMinArgs(t *testing.T) {
	r := pshellcli.NewRegistry()
	if err := r.Add("foo", "desc", "<x>", 2, 0, true, noop); err != nil {
		t.Fatalf("Add: %v", err)
	}
	cmd, err := r.Find("foo")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if cmd.MaxArgs != 2 {
		t.Errorf("MaxArgs = %d, want 2", cmd.MaxArgs)
	}
}

func TestAddDuplicateName(t *testing.T) {
	r := pshellcli.NewRegistry()
	if err := r.Add("foo", "desc", "", 0, 0, false, noop); err != nil {
		t.Fatalf("Add: %v", err)
	}
	err := r.Add("foo", "desc2", "", 0, 0, false, noop)
	if !errors.Is(err, pshellcli.ErrDuplicate) {
		t.Fatalf("Add() = %v, want ErrDuplicate", err)
	}
}

func TestAddDuplicateCallback(t *testing.T) {
	r := pshellcli.NewRegistry()
	if err := r.Add("foo", "desc", "", 0, 0, false, noop); err != nil {
		t.Fatalf("Add: %v", err)
	}
	err := r.Add("bar", "desc", "", 0, 0, false, noop)
	if !errors.Is(err, pshellcli.ErrDuplicate) {
		t.Fatalf("Add() = %v, want ErrDuplicate", err)
	}

	r2 := pshellcli.NewRegistry()
	r2.AllowDuplicateFunction = true
	if err := r2.Add("foo", "desc", "", 0, 0, false, noop); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := r2.Add("bar", "desc", "", 0, 0, false, noop); err != nil {
		t.Fatalf("Add with AllowDuplicateFunction: %v", err)
	}
}

func TestFindPrefix(t *testing.T) {
	r := pshellcli.NewRegistry()
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	r.AllowDuplicateFunction = true // both commands share noop
	must(r.Add("quit", "quit", "", 0, 0, false, noop))
	must(r.Add("query", "query", "", 0, 0, false, noop))

	if _, err := r.Find("q"); !errors.Is(err, pshellcli.ErrAmbiguous) {
		t.Fatalf("Find(\"q\") = %v, want ErrAmbiguous", err)
	}

	cmd, err := r.Find("qui")
	if err != nil {
		t.Fatalf("Find(\"qui\"): %v", err)
	}
	if cmd.Name != "quit" {
		t.Errorf("Find(\"qui\") = %v, want quit", cmd.Name)
	}

	if _, err := r.Find("zzz"); !errors.Is(err, pshellcli.ErrNotFound) {
		t.Fatalf("Find(\"zzz\") = %v, want ErrNotFound", err)
	}
}

func TestFindHelpAliases(t *testing.T) {
	r := pshellcli.NewRegistry()
	if err := r.Add("help", "help", "", 0, 0, false, noop); err != nil {
		t.Fatalf("Add: %v", err)
	}
	for _, alias := range []string{"?", "-h", "-help", "--help"} {
		cmd, err := r.Find(alias)
		if err != nil {
			t.Fatalf("Find(%q): %v", alias, err)
		}
		if cmd.Name != "help" {
			t.Errorf("Find(%q) = %v, want help", alias, cmd.Name)
		}
	}
}
