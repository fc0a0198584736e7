package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"serial-batch/pkg/batch"
)

var checkQuiet bool

// checkCmd represents the check command
var checkCmd = &cobra.Command{
	Use:   "check <script>",
	Short: "Show how each line of a script will be interpreted",
	Long: `Parse a batch script without sending anything and print how every line
is classified, followed by the expected running time.

Example:
  serial-batch check init.txt`,
	Args:    cobra.ExactArgs(1),
	Aliases: []string{"lint"},
	RunE:    runCheck,
}

func init() {
	checkCmd.Flags().BoolVarP(&checkQuiet, "quiet", "q", false, "print only the summary")
}

// scriptSummary aggregates directive counts and timing bounds
type scriptSummary struct {
	Lines    int
	Sends    int
	Delays   int
	Skipped  int
	MinTotal time.Duration
	MaxTotal time.Duration
}

func summarizeScript(lines []string) scriptSummary {
	s := scriptSummary{Lines: len(lines)}

	for _, line := range lines {
		d := batch.ParseDirective(line)
		switch d.Kind {
		case batch.KindBlank, batch.KindComment:
			s.Skipped++
		case batch.KindLiteral:
			s.Sends++
		case batch.KindRandomDelay:
			s.Delays++
			lo, hi := d.Range()
			s.MinTotal += time.Duration(lo) * time.Millisecond
			s.MaxTotal += time.Duration(hi) * time.Millisecond
		default:
			s.Delays++
			s.MinTotal += d.Delay()
			s.MaxTotal += d.Delay()
		}
	}

	return s
}

func runCheck(cmd *cobra.Command, args []string) error {
	path := resolveScriptPath(args[0], settings.ScriptsDir)
	lines, err := batch.LoadScript(path)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if !checkQuiet {
		printDirectives(out, lines)
	}

	s := summarizeScript(lines)
	fmt.Fprintf(out, "\n%d line(s): %d send(s), %d delay(s), %d skipped\n", s.Lines, s.Sends, s.Delays, s.Skipped)
	if s.MinTotal == s.MaxTotal {
		fmt.Fprintf(out, "Total delay: %v\n", s.MinTotal)
	} else {
		fmt.Fprintf(out, "Total delay: %v to %v\n", s.MinTotal, s.MaxTotal)
	}

	return nil
}

func printDirectives(out io.Writer, lines []string) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "LINE\tKIND\tINTERPRETATION")
	fmt.Fprintln(w, "----\t----\t--------------")

	for i, line := range lines {
		d := batch.ParseDirective(line)
		fmt.Fprintf(w, "%d\t%s\t%s\n", i+1, d.Kind, d)
	}

	w.Flush()
}
