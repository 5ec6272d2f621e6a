package report

import (
	"fmt"
	"io"
	"slices"
	"strconv"

	"github.com/nao1215/markdown"
)

// WriteMarkdown writes the summary as a Markdown document.
func WriteMarkdown(w io.Writer, summary Summary) error {
	md := markdown.NewMarkdown(w)

	md.H1("Serpent Run Report")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Started", summary.StartTime.Format("2006-01-02 15:04:05 MST")},
			{"Duration", summary.Duration.String()},
			{"Pages", strconv.Itoa(summary.TotalRecords)},
			{"Failed pages", strconv.Itoa(summary.Errors)},
			{"Organic results", strconv.Itoa(summary.OrganicResults)},
			{"Paid results", strconv.Itoa(summary.PaidResults)},
			{"Paid products", strconv.Itoa(summary.PaidProducts)},
			{"Dataset", "`" + summary.Location + "`"},
		},
	})
	md.PlainText("")

	switch {
	case summary.TotalRecords == 0:
		md.Note("No pages were stored.")
	case summary.Errors > 0:
		md.Warningf("%d of %d page(s) failed; see the #debug field of error records.", summary.Errors, summary.TotalRecords)
	default:
		md.Tip("All pages were processed.")
	}
	md.PlainText("")

	md.H2("Queries")
	md.PlainText("")
	if len(summary.Queries) == 0 {
		md.PlainText("No queries.")
	} else {
		rows := make([][]string, len(summary.Queries))
		for i, q := range summary.Queries {
			more := "no"
			if q.MorePages {
				more = "yes"
			}
			rows[i] = []string{
				q.Term,
				strconv.Itoa(q.Pages),
				strconv.Itoa(q.Organic),
				strconv.Itoa(q.Paid),
				strconv.Itoa(q.Errors),
				more,
			}
		}
		md.Table(markdown.TableSet{
			Header: []string{"Term", "Pages", "Organic", "Paid", "Failed", "More pages"},
			Rows:   rows,
		})
	}
	md.PlainText("")

	if len(summary.StatusCodes) > 0 {
		md.H2("Status Codes")
		md.PlainText("")
		codes := make([]int, 0, len(summary.StatusCodes))
		for code := range summary.StatusCodes {
			codes = append(codes, code)
		}
		slices.Sort(codes)
		items := make([]string, len(codes))
		for i, code := range codes {
			items[i] = fmt.Sprintf("%d: %d", code, summary.StatusCodes[code])
		}
		md.BulletList(items...)
		md.PlainText("")
	}

	if summary.DetectedBot > 0 {
		md.H2("Bot Detections")
		md.PlainText("")
		srcs := make([]string, 0, len(summary.DetectionsBySrc))
		for src := range summary.DetectionsBySrc {
			srcs = append(srcs, src)
		}
		slices.Sort(srcs)
		items := make([]string, len(srcs))
		for i, src := range srcs {
			items[i] = fmt.Sprintf("%s: %d", src, summary.DetectionsBySrc[src])
		}
		md.BulletList(items...)
		md.PlainText("")
	}

	if err := md.Build(); err != nil {
		return fmt.Errorf("render markdown report: %w", err)
	}
	return nil
}
