package renderer

import (
	"bytes"
	"fmt"
	"io"
	"strings"
)

// table writes a markdown table whose header is only printed with the first row.
type table struct {
	columns []string
	align   []string
	rows    int
}

// newTable creates a table. Columns prefixed with '>' are right aligned, those
// prefixed with '^' are centered.
func newTable(columns ...string) *table {
	t := &table{}
	for _, c := range columns {
		switch {
		case strings.HasPrefix(c, ">"):
			t.columns, t.align = append(t.columns, c[1:]), append(t.align, "---:")
		case strings.HasPrefix(c, "^"):
			t.columns, t.align = append(t.columns, c[1:]), append(t.align, ":---:")
		default:
			t.columns, t.align = append(t.columns, c), append(t.align, ":---")
		}
	}
	return t
}

// Row writes a row, preceded by the header if it is the first one.
func (t *table) Row(w io.Writer, cells ...any) {
	if t.rows == 0 {
		fmt.Fprintf(w, "| %s |\n", strings.Join(t.columns, " | "))
		fmt.Fprintf(w, "|%s|\n", strings.Join(t.align, "|"))
	}
	t.rows++
	s := make([]string, len(cells))
	for i, c := range cells {
		s[i] = strings.ReplaceAll(fmt.Sprint(c), "|", `\|`)
	}
	fmt.Fprintf(w, "| %s |\n", strings.Join(s, " | "))
}

// Empty tells if no row was written.
func (t *table) Empty() bool { return t.rows == 0 }

// conditionalBlock writes block into a buffer, copied to w only if block returns true.
func conditionalBlock(w io.Writer, block func(io.Writer) bool) {
	var buf bytes.Buffer
	if block(&buf) {
		io.Copy(w, &buf)
	}
}
