package releaseplan

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	HeaderPanelID         = "Panel ID"
	HeaderPromote         = "Promote"
	HeaderSignedOffBefore = "Signed Off (Before)"
	HeaderSignedOffAfter  = "Signed Off (After)"
	HeaderCommentBefore   = "Comment (Before)"
	HeaderCommentAfter    = "Comment (After)"
)

var ExportHeaders = []string{
	HeaderPanelID,
	HeaderPromote,
	HeaderSignedOffBefore,
	HeaderSignedOffAfter,
	HeaderCommentBefore,
	HeaderCommentAfter,
}

var requiredHeaders = []string{HeaderPanelID, HeaderPromote}

const utf8BOM = "\ufeff"

// Row is one parsed line of an import file. Number counts data rows from 1.
type Row struct {
	Number  int
	PanelID uint
	Promote bool
}

type MissingHeadersError struct {
	Headers []string
}

func (e *MissingHeadersError) Error() string {
	quoted := make([]string, len(e.Headers))
	for i, h := range e.Headers {
		quoted[i] = "`" + h + "`"
	}
	return "Missing headers: " + strings.Join(quoted, ", ")
}

type RowError struct {
	Row     int
	Message string
}

func (e *RowError) Error() string {
	return fmt.Sprintf("Row %d: %s", e.Row, e.Message)
}

func NewRowError(row int, format string, args ...any) *RowError {
	return &RowError{Row: row, Message: fmt.Sprintf(format, args...)}
}

// ImportError aggregates every problem found in an import file.
type ImportError struct {
	Errors []error
}

func (e *ImportError) Error() string {
	return strings.Join(e.Messages(), "; ")
}

func (e *ImportError) Unwrap() []error { return e.Errors }

func (e *ImportError) Messages() []string {
	out := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		out[i] = err.Error()
	}
	return out
}

// ParsePlan reads a release plan CSV. Header names are matched exactly and
// in any order; extra columns are ignored. All row problems are reported
// together in an *ImportError.
func ParsePlan(r io.Reader) ([]Row, error) {
	br := bufio.NewReader(r)
	if head, err := br.Peek(len(utf8BOM)); err == nil && string(head) == utf8BOM {
		_, _ = br.Discard(len(utf8BOM))
	}
	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, &ImportError{Errors: []error{&MissingHeadersError{Headers: requiredHeaders}}}
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	index := map[string]int{}
	for i, h := range header {
		if _, seen := index[h]; !seen {
			index[h] = i
		}
	}
	var missing []string
	for _, h := range requiredHeaders {
		if _, ok := index[h]; !ok {
			missing = append(missing, h)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, &ImportError{Errors: []error{&MissingHeadersError{Headers: missing}}}
	}

	var (
		rows []Row
		errs []error
		seen = map[string]bool{}
	)
	for n := 1; ; n++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row %d: %w", n, err)
		}
		rawID := cell(rec, index[HeaderPanelID])
		rawPromote := cell(rec, index[HeaderPromote])

		key := strings.TrimSpace(rawID)
		if seen[key] {
			errs = append(errs, NewRowError(n, "Panel is a duplicate."))
			continue
		}
		seen[key] = true

		row := Row{Number: n}
		ok := true
		switch id, perr := strconv.ParseUint(key, 10, 64); {
		case key == "":
			errs = append(errs, NewRowError(n, "Panel ID: This field cannot be null."))
			ok = false
		case perr != nil:
			errs = append(errs, NewRowError(n, "Field '%s' expected a number but got '%s'.", HeaderPanelID, rawID))
			ok = false
		default:
			row.PanelID = uint(id)
		}
		promote, perr := parseStrictBool(rawPromote)
		if perr != nil {
			errs = append(errs, NewRowError(n, "Promote: %s", perr.Error()))
			ok = false
		}
		row.Promote = promote
		if ok {
			rows = append(rows, row)
		}
	}
	if len(errs) > 0 {
		return nil, &ImportError{Errors: errs}
	}
	return rows, nil
}

func cell(rec []string, i int) string {
	if i < len(rec) {
		return rec[i]
	}
	return ""
}

func parseStrictBool(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	return false, fmt.Errorf("`%s` value must be either `true` or `false`.", v)
}

// ExportRow is one line of a release plan export.
type ExportRow struct {
	PanelID         uint
	Promote         bool
	SignedOffBefore string
	SignedOffAfter  string
	CommentBefore   string
	CommentAfter    string
}

func (r ExportRow) record() []string {
	return []string{
		strconv.FormatUint(uint64(r.PanelID), 10),
		strconv.FormatBool(r.Promote),
		r.SignedOffBefore,
		r.SignedOffAfter,
		r.CommentBefore,
		r.CommentAfter,
	}
}

func WriteExport(w io.Writer, rows []ExportRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ExportHeaders); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write(r.record()); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ExportFilename names an export; deployed selects the "after" variant.
func ExportFilename(release string, deployed bool, now time.Time) string {
	phase := "before"
	if deployed {
		phase = "after"
	}
	return fmt.Sprintf("%s-panels-%s-%s.csv", release, phase, now.UTC().Format("20060102-1504"))
}
