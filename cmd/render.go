package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v2"

	"grimm.is/foldwatch/internal/dispatch"
	"grimm.is/foldwatch/internal/document"
)

// opFailedError reports that at least one dispatched operation failed. The
// results themselves have already been printed.
type opFailedError struct {
	failed, total int
}

func (e *opFailedError) Error() string {
	if e.total == 1 {
		return "operation failed"
	}
	return fmt.Sprintf("%d of %d operations failed", e.failed, e.total)
}

func checkResults(results []dispatch.Result) error {
	failed := 0
	for _, r := range results {
		if !r.OK {
			failed++
		}
	}
	if failed > 0 {
		return &opFailedError{failed: failed, total: len(results)}
	}
	return nil
}

// render writes v in the requested format. v is printed as-is for json and
// yaml; text rendering is left to the caller via textFn.
func render(w io.Writer, format string, v any, textFn func(io.Writer) error) error {
	switch format {
	case OutputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case OutputYAML:
		out, err := yaml.Marshal(v)
		if err != nil {
			return err
		}
		_, err = w.Write(out)
		return err
	}
	return textFn(w)
}

// renderResults prints one result as an object and several as a list.
func renderResults(w io.Writer, format string, results []dispatch.Result) error {
	var v any = results
	if len(results) == 1 {
		v = results[0]
	}
	return render(w, format, v, func(w io.Writer) error {
		for _, r := range results {
			if err := writeResultText(w, r); err != nil {
				return err
			}
		}
		return nil
	})
}

func writeResultText(w io.Writer, r dispatch.Result) error {
	if !r.OK {
		_, err := fmt.Fprintf(w, "%s %s: FAILED (%s) %s\n", r.Target, r.Op, r.Failure, detailLine(r))
		return err
	}
	body, err := indentDocument(r.Data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s %s [%s]:\n%s\n", r.Target, r.Op, r.Source, body)
	return err
}

func detailLine(r dispatch.Result) string {
	if r.Detail == "" || r.Detail == r.Reason {
		return r.Reason
	}
	return r.Reason + ": " + r.Detail
}

// indentDocument renders v as indented JSON with sorted keys.
func indentDocument(v document.Value) (string, error) {
	raw, err := v.MarshalJSON()
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return "", err
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}
