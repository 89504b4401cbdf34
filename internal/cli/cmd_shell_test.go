package cli_test

import (
	"testing"

	"github.com/calvinalkan/featstore/internal/cli"
)

// Contract: piped shell input runs each command in order; command errors
// are printed and do not end the session.
func Test_Shell_Runs_Commands_When_Input_Piped(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	c.Build("genes", genesBED)

	input := `# comment
help
refs
has chr2
query chr1 12 22
query chr1:55-55
query chr1 9 1
bogus
cache
exit
query chr2 0 1000
`

	stdout, stderr, code := c.RunWithInput(input, "shell", "genes.feat")
	if code != 0 {
		t.Fatalf("exit %d\nstderr: %s", code, stderr)
	}

	cli.AssertContains(t, stdout, "Commands:")
	cli.AssertContains(t, stdout, "chr1\t60\nchr2\t200")
	cli.AssertContains(t, stdout, "true")
	cli.AssertContains(t, stdout, "chr1\t10\t20\tgeneA\t5\t+\nchr1\t15\t25\tgeneC\t0\t.\n(2 features)")
	cli.AssertContains(t, stdout, "chr1\t50\t60\tgeneB\t0\t-\n(1 features)")
	cli.AssertContains(t, stdout, "error: featstore: invalid query")
	cli.AssertContains(t, stdout, `error: unknown command "bogus"`)
	cli.AssertContains(t, stdout, "misses=")

	// Nothing after exit runs.
	cli.AssertNotContains(t, stdout, "geneD")
}
