// Package compile turns a completed sample's per-region outputs into one
// compiled result file.
//
// The compute step writes one output file per region somewhere under the
// sample output directory; the only contract is that each file's path
// contains its region token ("REGION_<id>"). The compiler discovers those
// files, re-emits every line with the token appended as a trailing tab
// field, and concatenates everything into <sample>_impact_scores.bedgraph.
// Rows are ordered by region id, then source line order; the original
// pipeline left this to filesystem enumeration order, which is explicitly
// strengthened here.
//
// Existence of the compiled file is the durable completion signal for the
// sample, so the file is written to a temp path and renamed into place.
// After a successful write the per-region intermediate directories are
// removed to reclaim storage.
package compile

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"
)

var tokenRe = regexp.MustCompile(`REGION_(\d+)`)

// unitFile is one discovered per-region output.
type unitFile struct {
	rel      string
	regionID int
	token    string
}

// Summary reports what one compilation did.
type Summary struct {
	// FilesFound is the number of per-region output files discovered.
	FilesFound int `json:"files_found"`

	// FilesSkipped counts files that could not be read and were skipped
	// with a warning.
	FilesSkipped int `json:"files_skipped"`

	// Rows is the number of lines written to the compiled file.
	Rows int `json:"rows"`

	// MissingTokens lists expected region tokens with no discovered file.
	// Only populated when an expected-token manifest was supplied.
	MissingTokens []string `json:"missing_tokens,omitempty"`

	// RemovedDirs counts deleted intermediate region directories.
	RemovedDirs int `json:"removed_dirs"`

	// Wrote reports whether a compiled file was produced. False when zero
	// per-region files were found.
	Wrote bool `json:"wrote"`
}

// Compiler compiles per-region outputs for one sample at a time.
type Compiler struct {
	log *zap.Logger
}

// New creates a compiler. log may be nil.
func New(log *zap.Logger) *Compiler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Compiler{log: log}
}

// Run compiles the per-region outputs under sampleDir into outPath.
//
// expected is the partition manifest of region tokens the compute step was
// supposed to produce; missing ones are reported in the summary and logged,
// but do not fail the compilation. A nil manifest skips the completeness
// check.
//
// Zero discovered files is a warning, not an error: no compiled file is
// written and nothing is deleted.
func (c *Compiler) Run(sampleDir, outPath string, expected []string) (*Summary, error) {
	sum := &Summary{}

	units, err := discover(sampleDir)
	if err != nil {
		return nil, err
	}
	sum.FilesFound = len(units)

	if expected != nil {
		sum.MissingTokens = missingTokens(expected, units)
		if len(sum.MissingTokens) > 0 {
			c.log.Warn("per-region outputs missing against manifest",
				zap.String("sample_dir", sampleDir),
				zap.Int("expected", len(expected)),
				zap.Int("found", len(units)),
				zap.Int("missing", len(sum.MissingTokens)))
		}
	}

	if len(units) == 0 {
		c.log.Warn("no per-region output files found, skipping compilation",
			zap.String("sample_dir", sampleDir))
		return sum, nil
	}

	if err := c.write(sampleDir, outPath, units, sum); err != nil {
		return nil, err
	}
	sum.Wrote = true

	removed, err := c.removeRegionDirs(sampleDir)
	if err != nil {
		// The compiled file already exists; reclamation failure is not
		// worth failing the sample over.
		c.log.Warn("failed to remove some region directories",
			zap.String("sample_dir", sampleDir), zap.Error(err))
	}
	sum.RemovedDirs = removed

	return sum, nil
}

// discover walks sampleDir for files whose path embeds a region token,
// sorted by region id then path. The token may sit in any path segment:
// the compute wrapper writes REGION_<id>/<file> but flat layouts with the
// token in the file name occur too.
func discover(sampleDir string) ([]unitFile, error) {
	matches, err := doublestar.Glob(os.DirFS(sampleDir), "**/*")
	if err != nil {
		return nil, fmt.Errorf("discover per-region outputs: %w", err)
	}

	var units []unitFile
	for _, rel := range matches {
		info, err := os.Stat(filepath.Join(sampleDir, rel))
		if err != nil || info.IsDir() {
			continue
		}
		m := tokenRe.FindStringSubmatch(rel)
		if m == nil {
			continue
		}
		id, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		units = append(units, unitFile{rel: rel, regionID: id, token: m[0]})
	}

	sort.Slice(units, func(i, j int) bool {
		if units[i].regionID != units[j].regionID {
			return units[i].regionID < units[j].regionID
		}
		return units[i].rel < units[j].rel
	})
	return units, nil
}

func (c *Compiler) write(sampleDir, outPath string, units []unitFile, sum *Summary) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(outPath), filepath.Base(outPath)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp compiled file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	w := bufio.NewWriter(tmp)
	for _, u := range units {
		n, err := appendTagged(w, filepath.Join(sampleDir, u.rel), u.token)
		if err != nil {
			sum.FilesSkipped++
			c.log.Warn("skipping unreadable per-region output",
				zap.String("file", u.rel), zap.Error(err))
			continue
		}
		sum.Rows += n
	}

	if err := w.Flush(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("flush compiled file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close compiled file: %w", err)
	}
	if err := os.Rename(tmpName, outPath); err != nil {
		return fmt.Errorf("rename compiled file: %w", err)
	}
	return nil
}

// appendTagged copies every non-empty line of path to w with the region
// token appended as a trailing tab field, returning the row count.
func appendTagged(w *bufio.Writer, path, token string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer func() { _ = f.Close() }()

	rows := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\n")
		if strings.TrimSpace(line) == "" {
			continue
		}
		if _, err := fmt.Fprintf(w, "%s\t%s\n", line, token); err != nil {
			return rows, err
		}
		rows++
	}
	return rows, scanner.Err()
}

// removeRegionDirs deletes the top-level REGION_* subdirectories of
// sampleDir.
func (c *Compiler) removeRegionDirs(sampleDir string) (int, error) {
	entries, err := os.ReadDir(sampleDir)
	if err != nil {
		return 0, err
	}

	removed := 0
	var firstErr error
	for _, e := range entries {
		if !e.IsDir() || !tokenRe.MatchString(e.Name()) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(sampleDir, e.Name())); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		removed++
	}
	return removed, firstErr
}

func missingTokens(expected []string, units []unitFile) []string {
	found := make(map[string]bool, len(units))
	for _, u := range units {
		found[u.token] = true
	}
	var missing []string
	for _, tok := range expected {
		if !found[tok] {
			missing = append(missing, tok)
		}
	}
	return missing
}
