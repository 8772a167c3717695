// Package regions loads the ordered region list that defines the unit of
// screening work.
//
// The region list is a headerless tab-separated file with one interval per
// line: chromosome, start, end, region id. Line order is significant: it
// determines chunk and batch boundaries downstream, so loading preserves it
// exactly.
package regions

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Region is one screenable genomic interval, the atomic unit of work.
type Region struct {
	Chromosome string `json:"chromosome"`
	Start      int64  `json:"start"`
	End        int64  `json:"end"`
	ID         int    `json:"region_id"`
}

// Token returns the identifier token embedded in per-region output paths.
func (r Region) Token() string {
	return Token(r.ID)
}

// Token formats a region id as the path token used by the compute wrapper
// when naming per-region output directories and files.
//
// NOTE: this format is part of the on-disk contract with the compute step
// and with the result compiler. Do not change it without a migration.
func Token(id int) string {
	return fmt.Sprintf("REGION_%d", id)
}

// LoadFile reads an ordered region list from path.
//
// Blank lines are skipped. Any malformed line aborts the load: a truncated
// region list silently dropping work is worse than a hard failure before
// any job is submitted.
func LoadFile(path string) ([]Region, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("region list not found: %s", path)
		}
		return nil, fmt.Errorf("open region list: %w", err)
	}
	defer func() { _ = f.Close() }()

	var out []Region
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		r, err := parseLine(line)
		if err != nil {
			return nil, fmt.Errorf("region list %s line %d: %w", path, lineNo, err)
		}
		out = append(out, r)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read region list: %w", err)
	}
	return out, nil
}

func parseLine(line string) (Region, error) {
	fields := strings.Split(line, "\t")
	if len(fields) < 4 {
		return Region{}, fmt.Errorf("expected 4 tab-separated fields, got %d", len(fields))
	}

	start, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return Region{}, fmt.Errorf("invalid start %q: %w", fields[1], err)
	}
	end, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return Region{}, fmt.Errorf("invalid end %q: %w", fields[2], err)
	}
	if end < start {
		return Region{}, fmt.Errorf("end %d before start %d", end, start)
	}

	id, err := parseID(fields[3])
	if err != nil {
		return Region{}, err
	}

	return Region{
		Chromosome: fields[0],
		Start:      start,
		End:        end,
		ID:         id,
	}, nil
}

// parseID accepts either a bare integer ("1234") or a full token
// ("REGION_1234"); both forms appear in region lists in the wild.
func parseID(s string) (int, error) {
	s = strings.TrimPrefix(s, "REGION_")
	id, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid region id %q: %w", s, err)
	}
	if id < 0 {
		return 0, fmt.Errorf("negative region id %d", id)
	}
	return id, nil
}
