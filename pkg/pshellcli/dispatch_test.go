package pshellcli_test

import (
	"errors"
	"testing"

	"github.com/dgrid-labs/pshell/pkg/pshellcli"
)

var errBoom = errors.New("kaboom")

func TestDispatchNotFoundProducesErrorLine(t *testing.T) {
	r := pshellcli.NewRegistry()
	res := pshellcli.Dispatch(r, "doesnotexist")
	if !res.NotFound {
		t.Fatalf("expected NotFound")
	}
	want := "PSHELL_ERROR: Command: 'doesnotexist' not found\n"
	if res.Output != want {
		t.Fatalf("Output = %q, want %q", res.Output, want)
	}
}

func TestDispatchAmbiguousProducesErrorLine(t *testing.T) {
	r := pshellcli.NewRegistry()
	r.AllowDuplicateFunction = true // both commands share noop
	if err := r.Add("quit", "quit", "", 0, 0, false, noop); err != nil {
		t.Fatalf("Add(quit): %v", err)
	}
	if err := r.Add("query", "query", "<x>", 1, 1, true, noop); err != nil {
		t.Fatalf("Add(query): %v", err)
	}

	res := pshellcli.Dispatch(r, "q")
	if !res.Ambiguous {
		t.Fatalf("expected Ambiguous")
	}
	want := "PSHELL_ERROR: Ambiguous command abbreviation: 'q'\n"
	if res.Output != want {
		t.Fatalf("Output = %q, want %q", res.Output, want)
	}
}

func TestDispatchSuccess(t *testing.T) {
	r := pshellcli.NewRegistry()
	echo := func(ctx *pshellcli.Context) error {
		args, _ := ctx.Args()
		for i, a := range args {
			if i > 0 {
				ctx.Printf(" ")
			}
			ctx.Printf("%s", a)
		}
		return nil
	}
	if err := r.Add("echo", "echo args", "<text>...", 1, 8, true, echo); err != nil {
		t.Fatalf("Add(echo): %v", err)
	}

	res := pshellcli.Dispatch(r, "echo hello world")
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if res.Output != "hello world" {
		t.Fatalf("Output = %q, want %q", res.Output, "hello world")
	}
}

func TestDispatchBadArgCountShowsUsage(t *testing.T) {
	r := pshellcli.NewRegistry()
	if err := r.Add("echo", "echo args", "<text>...", 1, 8, true, noop); err != nil {
		t.Fatalf("Add(echo): %v", err)
	}

	res := pshellcli.Dispatch(r, "echo")
	if !res.BadArgCount || !res.ShowedUsage {
		t.Fatalf("expected BadArgCount+ShowedUsage, got %+v", res)
	}
}

func TestDispatchHelpTokenShowsUsageInsteadOfDispatching(t *testing.T) {
	r := pshellcli.NewRegistry()
	called := false
	echo := func(ctx *pshellcli.Context) error {
		called = true
		return nil
	}
	if err := r.Add("echo", "echo args", "<text>...", 1, 8, true, echo); err != nil {
		t.Fatalf("Add(echo): %v", err)
	}

	res := pshellcli.Dispatch(r, "echo ?")
	if !res.ShowedUsage {
		t.Fatalf("expected ShowedUsage, got %+v", res)
	}
	if called {
		t.Fatalf("callback should not run when usage is shown")
	}
	want := "Usage: echo <text>...\n"
	if res.Output != want {
		t.Fatalf("Output = %q, want %q", res.Output, want)
	}
}

func TestDispatchHelpTokenPassesThroughWhenUsageDisabled(t *testing.T) {
	r := pshellcli.NewRegistry()
	called := false
	noUsage := func(ctx *pshellcli.Context) error {
		called = true
		return nil
	}
	if err := r.Add("noop", "noop", "[arg]", 0, 1, false, noUsage); err != nil {
		t.Fatalf("Add(noop): %v", err)
	}

	res := pshellcli.Dispatch(r, "noop ?")
	if !called {
		t.Fatalf("expected callback to run when showUsage is false")
	}
	if res.ShowedUsage {
		t.Fatalf("did not expect ShowedUsage")
	}
}

func TestDispatchCallbackErrorAppendsErrorLine(t *testing.T) {
	r := pshellcli.NewRegistry()
	boom := func(ctx *pshellcli.Context) error {
		ctx.Printf("partial output")
		return errBoom
	}
	if err := r.Add("boom", "boom", "", 0, 0, false, boom); err != nil {
		t.Fatalf("Add(boom): %v", err)
	}

	res := pshellcli.Dispatch(r, "boom")
	if res.Err == nil {
		t.Fatalf("expected an error")
	}
	want := "partial outputPSHELL_ERROR: kaboom\n"
	if res.Output != want {
		t.Fatalf("Output = %q, want %q", res.Output, want)
	}
}
