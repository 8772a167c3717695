// Package matrix builds the unified cross-sample score matrix from the
// compiled per-sample result files.
//
// Input contract: a root directory with one subdirectory per attempted
// sample, each optionally containing <sample>_impact_scores.bedgraph.
// Samples without a compiled file are simply absent from the matrix.
//
// Output: one tab-separated file with a header row. The first column is
// the region token ("peak_id" header); one column per sample, sorted by
// sample name; rows sorted by numeric region id; empty cell where a sample
// has no score for a region.
package matrix

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// CompiledSuffix is the per-sample compiled file name suffix.
const CompiledSuffix = "_impact_scores.bedgraph"

// DefaultFileName is the unified matrix file name under the output root.
const DefaultFileName = "compiled_impact_scores.tsv"

// Summary reports what one matrix build did.
type Summary struct {
	Samples int    `json:"samples"`
	Regions int    `json:"regions"`
	Path    string `json:"path"`
}

// Builder builds the unified matrix.
type Builder struct {
	log *zap.Logger
}

// New creates a builder. log may be nil.
func New(log *zap.Logger) *Builder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Builder{log: log}
}

// Build scans root for compiled per-sample files and writes the unified
// matrix to outPath. Zero compiled files is an error: a matrix with no
// columns means the whole run produced nothing.
func (b *Builder) Build(root, outPath string) (*Summary, error) {
	files, err := findCompiled(root)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no compiled sample files found under %s", root)
	}

	// sample -> region token -> score
	scores := make(map[string]map[string]string, len(files))
	regionIDs := make(map[string]int)

	var sampleNames []string
	for _, f := range files {
		perSample, err := readCompiled(f.path, regionIDs)
		if err != nil {
			b.log.Warn("skipping unreadable compiled file",
				zap.String("sample", f.sample), zap.Error(err))
			continue
		}
		scores[f.sample] = perSample
		sampleNames = append(sampleNames, f.sample)
		b.log.Info("matrix input loaded",
			zap.String("sample", f.sample), zap.Int("regions", len(perSample)))
	}
	if len(sampleNames) == 0 {
		return nil, fmt.Errorf("no readable compiled sample files under %s", root)
	}
	sort.Strings(sampleNames)

	tokens := make([]string, 0, len(regionIDs))
	for tok := range regionIDs {
		tokens = append(tokens, tok)
	}
	sort.Slice(tokens, func(i, j int) bool { return regionIDs[tokens[i]] < regionIDs[tokens[j]] })

	if err := writeMatrix(outPath, sampleNames, tokens, scores); err != nil {
		return nil, err
	}

	return &Summary{Samples: len(sampleNames), Regions: len(tokens), Path: outPath}, nil
}

type compiledFile struct {
	sample string
	path   string
}

// findCompiled locates <sample>_impact_scores.bedgraph one level below
// root, per the directory layout the controller produces.
func findCompiled(root string) ([]compiledFile, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read output root: %w", err)
	}

	var out []compiledFile
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		sample := e.Name()
		path := filepath.Join(root, sample, sample+CompiledSuffix)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		out = append(out, compiledFile{sample: sample, path: path})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].sample < out[j].sample })
	return out, nil
}

// readCompiled maps region token -> score for one compiled file. Lines are
// "chrom\tstart\tend\tscore\t...\tREGION_<id>"; the score is the 4th field
// and the token the last. regionIDs accumulates token -> numeric id for
// row ordering.
func readCompiled(path string, regionIDs map[string]int) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	out := make(map[string]string)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 5 {
			continue
		}
		token := fields[len(fields)-1]
		var id int
		if _, err := fmt.Sscanf(token, "REGION_%d", &id); err != nil {
			continue
		}
		out[token] = fields[3]
		regionIDs[token] = id
	}
	return out, scanner.Err()
}

func writeMatrix(outPath string, sampleNames, tokens []string, scores map[string]map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		return fmt.Errorf("create matrix dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(outPath), filepath.Base(outPath)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp matrix file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	w := bufio.NewWriter(tmp)
	fmt.Fprintf(w, "peak_id\t%s\n", strings.Join(sampleNames, "\t"))
	for _, tok := range tokens {
		row := make([]string, 0, len(sampleNames)+1)
		row = append(row, tok)
		for _, s := range sampleNames {
			row = append(row, scores[s][tok])
		}
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}

	if err := w.Flush(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("flush matrix file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close matrix file: %w", err)
	}
	if err := os.Rename(tmpName, outPath); err != nil {
		return fmt.Errorf("rename matrix file: %w", err)
	}
	return nil
}
