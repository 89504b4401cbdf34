package cli_test

import (
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/calvinalkan/featstore/internal/cli"
)

func Test_Invalid_Global_Flag_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stdout, stderr, exitCode := c.Run("--invalid-flag", "refs")

	if got, want := exitCode, 1; got != want {
		t.Errorf("exitCode=%d, want=%d", got, want)
	}

	if got, want := stdout, ""; got != want {
		t.Errorf("stdout=%q, want=%q", got, want)
	}

	cli.AssertContains(t, stderr, "unknown flag")
	cli.AssertContains(t, stderr, "--invalid-flag")

	// Should show valid global options
	cli.AssertContains(t, stderr, "Global flags:")
	cli.AssertContains(t, stderr, "--help")
	cli.AssertContains(t, stderr, "--cwd")
	cli.AssertContains(t, stderr, "--config")
	cli.AssertContains(t, stderr, "--log-level")
}

func Test_Usage_Lists_Commands_When_No_Command_Given(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stdout := c.MustRun()

	for _, name := range []string{"build", "query", "has", "refs", "stats", "serve", "shell", "print-config"} {
		cli.AssertContains(t, stdout, "  "+name)
	}
}

func Test_Unknown_Command_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stderr := c.MustFail("frobnicate")

	cli.AssertContains(t, stderr, "unknown command: frobnicate")
	cli.AssertContains(t, stderr, "Commands:")
}

func Test_Command_Help_When_Help_Flag_Given(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stdout := c.MustRun("query", "--help")

	cli.AssertContains(t, stdout, "Usage: featstore query [flags] <file> <ref> <start> <end>")
	cli.AssertContains(t, stdout, "--limit")
	cli.AssertContains(t, stdout, "--json")
}

func Test_Missing_Arguments_Print_Command_Help_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stderr := c.MustFail("refs")

	cli.AssertContains(t, stderr, "expected at least 1 arguments")
	cli.AssertContains(t, stderr, "Usage: featstore refs <file>")
}

// Contract: a signal cancels the running command and serve returns cleanly.
func Test_Serve_Stops_When_Signal_Received(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	c.Build("genes", "chr1\t10\t20\tgeneA\n")

	sigCh := make(chan os.Signal, 1)
	done := make(chan int, 1)

	var stdout, stderr syncBuffer

	go func() {
		done <- cli.Run(nil, &stdout, &stderr,
			[]string{"featstore", "--cwd", c.Dir, "serve", "--listen", "127.0.0.1:0", "genes.feat"}, c.Env, sigCh)
	}()

	deadline := time.After(10 * time.Second)

	for !stderr.contains("listening on") {
		select {
		case code := <-done:
			t.Fatalf("serve exited early with %d\nstderr: %s", code, stderr.String())
		case <-deadline:
			t.Fatal("serve did not start")
		case <-time.After(5 * time.Millisecond):
		}
	}

	sigCh <- syscall.SIGTERM

	select {
	case code := <-done:
		if code != 0 {
			t.Fatalf("exit code = %d, want 0\nstderr: %s", code, stderr.String())
		}
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not stop after signal")
	}
}
