package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/matthewdale/mongo-agg/agg"
	"github.com/matthewdale/mongo-agg/internal/plan"
	"github.com/pkg/errors"
	"github.com/urfave/cli"
	"go.mongodb.org/mongo-driver/bson"
)

func show() cli.Command {
	return cli.Command{
		Name:  "show",
		Usage: "print the pipeline a definition file builds",
		Flags: mergeFlagSlices(
			addFileFlag(),
			[]cli.Flag{
				cli.IntFlag{
					Name:  joinFlagNames(depthFlagName, "d"),
					Usage: "nesting depth to print inside each stage (0 for everything)",
				},
				cli.BoolFlag{
					Name:  joinFlagNames(summaryFlagName, "s"),
					Usage: "print stage counts and alone labels instead of the pipeline",
				},
			}),
		Action: func(c *cli.Context) error {
			b, err := buildFromFile(c.String(fileFlagName), agg.New(nil))
			if err != nil {
				return err
			}
			stages, err := b.Pipeline()
			if err != nil {
				return errors.Wrap(err, "error building pipeline")
			}

			if c.Bool(summaryFlagName) {
				return printSummary(os.Stdout, stages, b.Alones())
			}

			out, err := agg.Render(stages, c.Int(depthFlagName))
			if err != nil {
				return errors.Wrap(err, "error rendering pipeline")
			}
			fmt.Println(out)
			return nil
		},
	}
}

// buildFromFile applies the definition at path to b. A path of "-" reads
// stdin.
func buildFromFile(path string, b *agg.Builder) (*agg.Builder, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, errors.Wrapf(err, "error opening definition file %q", path)
		}
		defer f.Close()
		r = f
	}

	entries, err := plan.Load(r)
	if err != nil {
		return nil, err
	}
	if err := plan.Apply(b, entries); err != nil {
		return nil, errors.Wrapf(err, "error applying definition file %q", path)
	}
	return b, nil
}

func printSummary(out io.Writer, stages []bson.D, alones []string) error {
	counts := make(map[string]int)
	for _, stage := range stages {
		if len(stage) > 0 {
			counts[stage[0].Key]++
		}
	}

	type tuple struct {
		k string
		v int
	}
	tup := make([]tuple, 0, len(counts))
	for k, v := range counts {
		tup = append(tup, tuple{k: k, v: v})
	}
	sort.Slice(tup, func(i, j int) bool {
		if tup[i].v != tup[j].v {
			return tup[i].v > tup[j].v
		}
		return tup[i].k < tup[j].k
	})

	w := tabwriter.NewWriter(out, 0, 8, 0, '\t', 0)
	fmt.Fprintln(w, "\tCount\tStage")
	for _, t := range tup {
		fmt.Fprintf(w, "\t%v\t%v\n", t.v, t.k)
	}
	fmt.Fprintf(w, "\t%d\ttotal\n", len(stages))
	if len(alones) > 0 {
		fmt.Fprintf(w, "\nAlone labels: %s\n", strings.Join(alones, ", "))
	}
	return w.Flush()
}
