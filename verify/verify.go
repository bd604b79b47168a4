// Package verify checks a schema model against the schema files of a
// project: the expected file for the current schema version and the files
// of older versions that databases may still contain.
package verify

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/andreyvit/objdb"
)

type Options struct {
	// ExpectedFile holds the schema of the current version.
	ExpectedFile string

	// ActualFile, if set, receives the current schema when it does not
	// match ExpectedFile (or when ExpectedFile is missing and not generated).
	ActualFile string

	// OldSchemasDir holds schema files of older versions still in use.
	// Every .xml, .yaml and .yml file under it is checked. A missing
	// directory means there are no old versions.
	OldSchemasDir string

	// AutoGenerate writes the current schema to ExpectedFile when the file
	// does not exist, instead of failing.
	AutoGenerate bool

	// MatchNames requires identical names in addition to compatible
	// structure when comparing with ExpectedFile.
	MatchNames bool

	Logger *slog.Logger
}

// OldResult is the check of one old schema file.
type OldResult struct {
	File   string
	Report *objdb.Report
}

type Result struct {
	Passed bool

	// Generated is set when ExpectedFile was created from the current schema.
	Generated bool

	// Missing is set when ExpectedFile does not exist and was not generated.
	Missing bool

	Expected *objdb.Report
	Old      []OldResult

	Remediation string
}

var ErrVerificationFailed = errors.New("schema verification failed")

// Err returns ErrVerificationFailed for a failed result.
func (r *Result) Err() error {
	if r.Passed {
		return nil
	}
	return ErrVerificationFailed
}

// Verify compares current with the expected schema file and checks it for
// consistency with every old schema file. I/O and parse failures are
// returned as errors; incompatibilities are reported in the Result.
func Verify(current *objdb.SchemaModel, opt Options) (*Result, error) {
	logger := opt.Logger
	if logger == nil {
		logger = slog.Default()
	}
	res := &Result{Passed: true}
	var remedies []string

	_, err := os.Stat(opt.ExpectedFile)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if opt.AutoGenerate {
			if err := objdb.WriteSchemaFile(opt.ExpectedFile, current); err != nil {
				return nil, fmt.Errorf("verify: generate expected schema: %w", err)
			}
			logger.Info("verify: generated expected schema file", "path", opt.ExpectedFile)
			res.Generated = true
			return res, nil
		}
		res.Passed, res.Missing = false, true
		if err := writeActual(current, opt); err != nil {
			return nil, err
		}
		remedies = append(remedies, fmt.Sprintf("Create %s from the current schema, or enable auto-generation.", opt.ExpectedFile))
	case err != nil:
		return nil, fmt.Errorf("verify: %w", err)
	default:
		expected, err := objdb.ReadSchemaFile(opt.ExpectedFile)
		if err != nil {
			return nil, fmt.Errorf("verify: expected schema: %w", err)
		}
		res.Expected = objdb.Compare(current, expected, opt.MatchNames)
		if !res.Expected.OK() {
			res.Passed = false
			if err := writeActual(current, opt); err != nil {
				return nil, err
			}
			logger.Warn("verify: schema differs from expected", "path", opt.ExpectedFile, "differences", len(res.Expected.Incompatible()))
			remedies = append(remedies, expectedRemediation(opt))
		}
	}

	oldFiles, err := findSchemaFiles(opt.OldSchemasDir)
	if err != nil {
		return nil, err
	}
	var conflicts bool
	for _, path := range oldFiles {
		old, err := objdb.ReadSchemaFile(path)
		if err != nil {
			return nil, fmt.Errorf("verify: old schema: %w", err)
		}
		rel, err := filepath.Rel(opt.OldSchemasDir, path)
		if err != nil {
			rel = path
		}
		rep := objdb.CheckConsistent(current, old)
		res.Old = append(res.Old, OldResult{File: filepath.ToSlash(rel), Report: rep})
		if !rep.OK() {
			conflicts = true
			logger.Warn("verify: schema conflicts with old version", "path", path)
		}
	}
	if conflicts {
		res.Passed = false
		remedies = append(remedies, "The current schema conflicts with old schema versions still in use. Give the conflicting types, fields or indexes new storage IDs.")
	}
	res.Remediation = strings.Join(remedies, "\n\n")
	return res, nil
}

func expectedRemediation(opt Options) string {
	var buf strings.Builder
	buf.WriteString("Recommended actions:\n")
	buf.WriteString("  (a) If no schema change was intended, undo the model change that caused the difference.\n")
	buf.WriteString("  (b) Otherwise:\n")
	if opt.OldSchemasDir != "" {
		fmt.Fprintf(&buf, "      1. Move %s into %s\n", opt.ExpectedFile, opt.OldSchemasDir)
	} else {
		fmt.Fprintf(&buf, "      1. Keep %s as an old schema version\n", opt.ExpectedFile)
	}
	if opt.ActualFile != "" {
		fmt.Fprintf(&buf, "      2. Copy %s to %s\n", opt.ActualFile, opt.ExpectedFile)
	} else {
		fmt.Fprintf(&buf, "      2. Write the current schema to %s\n", opt.ExpectedFile)
	}
	buf.WriteString("      3. Increment the schema version the application opens transactions with")
	return buf.String()
}

func writeActual(current *objdb.SchemaModel, opt Options) error {
	if opt.ActualFile == "" {
		return nil
	}
	if err := objdb.WriteSchemaFile(opt.ActualFile, current); err != nil {
		return fmt.Errorf("verify: write actual schema: %w", err)
	}
	return nil
}

func findSchemaFiles(dir string) ([]string, error) {
	if dir == "" {
		return nil, nil
	}
	var out []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir && errors.Is(err, fs.ErrNotExist) {
				return filepath.SkipDir
			}
			return err
		}
		if !d.IsDir() && objdb.IsSchemaFile(path) {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("verify: old schemas: %w", err)
	}
	slices.Sort(out)
	return out, nil
}

// String renders the result for humans.
func (r *Result) String() string {
	var buf strings.Builder
	switch {
	case r.Generated:
		buf.WriteString("expected schema: generated\n")
	case r.Missing:
		buf.WriteString("expected schema: missing\n")
	case r.Expected != nil:
		fmt.Fprintf(&buf, "expected schema: %s\n", verdict(r.Expected))
		writeEntries(&buf, r.Expected)
	}
	for _, o := range r.Old {
		fmt.Fprintf(&buf, "old schema %s: %s\n", o.File, verdict(o.Report))
		writeEntries(&buf, o.Report)
	}
	if r.Passed {
		buf.WriteString("PASSED\n")
	} else {
		buf.WriteString("FAILED\n")
	}
	if r.Remediation != "" {
		buf.WriteString("\n")
		buf.WriteString(r.Remediation)
		buf.WriteString("\n")
	}
	return buf.String()
}

func verdict(rep *objdb.Report) string {
	if rep.OK() {
		return "ok"
	}
	return fmt.Sprintf("%d incompatible", len(rep.Incompatible()))
}

// writeEntries lists every entry that is not a plain match.
func writeEntries(buf *strings.Builder, rep *objdb.Report) {
	for _, e := range rep.Entries {
		if e.Status == objdb.StatusMatch && e.Reason == "" {
			continue
		}
		buf.WriteString("  ")
		buf.WriteString(e.String())
		buf.WriteString("\n")
	}
}
