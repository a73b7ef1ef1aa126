package bench

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// FormatCompare renders measurements as comparison tables, one per label:
// rows keyed by sub-label, columns keyed by description, cells holding the
// median time in microseconds.
func FormatCompare(ms []Measurement) string {
	var sb strings.Builder
	WriteCompare(&sb, ms)
	return sb.String()
}

// WriteCompare writes the comparison tables to w.
func WriteCompare(w io.Writer, ms []Measurement) {
	p := message.NewPrinter(language.English)

	var labels []string
	byLabel := make(map[string][]Measurement)
	for _, m := range ms {
		if _, ok := byLabel[m.Label]; !ok {
			labels = append(labels, m.Label)
		}
		byLabel[m.Label] = append(byLabel[m.Label], m)
	}

	var totalRuns int
	for _, label := range labels {
		group := byLabel[label]

		var descs, subLabels []string
		cells := make(map[string]map[string]Measurement)
		for _, m := range group {
			if cells[m.SubLabel] == nil {
				subLabels = append(subLabels, m.SubLabel)
				cells[m.SubLabel] = make(map[string]Measurement)
			}
			if _, ok := cells[m.SubLabel][m.Description]; !ok {
				cells[m.SubLabel][m.Description] = m
			}
			seen := false
			for _, d := range descs {
				if d == m.Description {
					seen = true
					break
				}
			}
			if !seen {
				descs = append(descs, m.Description)
			}
			totalRuns += m.Runs
		}

		fmt.Fprintln(w, banner(label, 64))
		tw := tabwriter.NewWriter(w, 2, 0, 2, ' ', tabwriter.AlignRight)
		fmt.Fprintf(tw, "\t")
		for _, d := range descs {
			fmt.Fprintf(tw, "%s\t", d)
		}
		fmt.Fprintln(tw)
		for _, sl := range subLabels {
			fmt.Fprintf(tw, "%s\t", sl)
			for _, d := range descs {
				if m, ok := cells[sl][d]; ok {
					fmt.Fprintf(tw, "%.1f\t", float64(m.Median.Nanoseconds())/1e3)
				} else {
					fmt.Fprintf(tw, "-\t")
				}
			}
			fmt.Fprintln(tw)
		}
		tw.Flush()
		fmt.Fprintln(w)
	}

	p.Fprintf(w, "Times are medians in microseconds (us); %d timed runs total.\n", totalRuns)
}

func banner(label string, width int) string {
	body := " " + label + " "
	dashes := width - len(body) - 2
	if dashes < 2 {
		dashes = 2
	}
	left := dashes / 2
	right := dashes - left
	return "[" + strings.Repeat("-", left) + body + strings.Repeat("-", right) + "]"
}
