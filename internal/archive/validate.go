package archive

import (
	"archive/zip"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
)

// Discrepancy is a source file whose recorded size disagrees with the
// container.
type Discrepancy struct {
	RelPath     string
	SourceSize  int64
	ArchiveSize int64
}

// ValidationReport compares a source tree against a finished container.
type ValidationReport struct {
	FilesChecked int
	Missing      []string
	Mismatched   []Discrepancy
}

// OK reports whether every source file is present with the right size.
func (r *ValidationReport) OK() bool {
	return len(r.Missing) == 0 && len(r.Mismatched) == 0
}

// Summary renders a bounded report; at most n problem paths per category
// are listed so a huge failure stays readable.
func (r *ValidationReport) Summary(n int) string {
	if r.OK() {
		return fmt.Sprintf("validated %d entries", r.FilesChecked)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "checked %d files: %d missing, %d size mismatches",
		r.FilesChecked, len(r.Missing), len(r.Mismatched))
	for i, p := range r.Missing {
		if i >= n {
			fmt.Fprintf(&sb, "\n  ... and %d more missing", len(r.Missing)-n)
			break
		}
		fmt.Fprintf(&sb, "\n  missing: %s", p)
	}
	for i, d := range r.Mismatched {
		if i >= n {
			fmt.Fprintf(&sb, "\n  ... and %d more mismatched", len(r.Mismatched)-n)
			break
		}
		fmt.Fprintf(&sb, "\n  size mismatch: %s source=%d archive=%d",
			d.RelPath, d.SourceSize, d.ArchiveSize)
	}
	return sb.String()
}

// ValidateArchive walks sourceRoot and checks that every file the build
// would have picked up exists in the container with a matching size.
func ValidateArchive(sourceRoot, zipPath string) (*ValidationReport, error) {
	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, fmt.Errorf("open container %s: %w", zipPath, err)
	}
	defer zr.Close()

	// Last entry wins for a repeated name, matching extraction behavior.
	recorded := make(map[string]int64, len(zr.File))
	for _, f := range zr.File {
		recorded[f.Name] = int64(f.UncompressedSize64)
	}

	absOut, _ := filepath.Abs(zipPath)
	report := &ValidationReport{}

	err = filepath.WalkDir(sourceRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		if strings.EqualFold(filepath.Ext(path), ".zip") {
			return nil
		}
		if abs, aerr := filepath.Abs(path); aerr == nil && abs == absOut {
			return nil
		}

		rel, err := filepath.Rel(sourceRoot, path)
		if err != nil {
			return err
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}

		report.FilesChecked++
		name := filepath.ToSlash(rel)
		got, ok := recorded[name]
		if !ok {
			report.Missing = append(report.Missing, name)
			return nil
		}
		if got != fi.Size() {
			report.Mismatched = append(report.Mismatched, Discrepancy{
				RelPath:     name,
				SourceSize:  fi.Size(),
				ArchiveSize: got,
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", sourceRoot, err)
	}
	return report, nil
}
