package output

import (
	"bytes"
	"fmt"
)

// TSVFormatter formats the deployed directories as tab-separated values,
// one row per directory, or one row per file when entries are present.
type TSVFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *TSVFormatter) Format(w *bytes.Buffer, r *Report) error {
	verbose := false
	for _, d := range r.Directories {
		if len(d.Entries) > 0 {
			verbose = true
			break
		}
	}

	if verbose {
		w.WriteString("MOD_TYPE\tDATA_PATH\tREL_PATH\tSOURCE\n")
		for _, d := range r.Directories {
			for _, e := range d.Entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", d.ModType, d.DataPath, e.RelPath, e.Source)
			}
		}
		return nil
	}

	w.WriteString("MOD_TYPE\tMETHOD\tFILES\tDATA_PATH\n")
	for _, d := range r.Directories {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", d.ModType, d.Method, d.Files, d.DataPath)
	}
	return nil
}

func init() {
	Register("tsv", func() Formatter {
		return &TSVFormatter{}
	})
}

var _ Formatter = (*TSVFormatter)(nil)
