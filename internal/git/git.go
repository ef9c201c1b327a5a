// Package git reads the working tree diff of the analysed repository.
package git

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
)

// ChangedFile is a file touched by the diff with the new-side lines it changed.
type ChangedFile struct {
	Path         string `json:"path"`
	ChangedLines []int  `json:"changed_lines"`
}

var chunkHeader = regexp.MustCompile(`^@@ -\d+(?:,\d+)? \+(\d+)(?:,(\d+))? @@`)

// ChangedFiles runs git diff against baseRef inside dir.
func ChangedFiles(ctx context.Context, dir, baseRef string) ([]ChangedFile, error) {
	if baseRef == "" {
		baseRef = "HEAD"
	}
	cmd := exec.CommandContext(ctx, "git", "diff", "-U0", "--no-color", baseRef)
	cmd.Dir = dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("git diff %s: %w: %s", baseRef, err, strings.TrimSpace(stderr.String()))
	}
	return ParseDiff(out)
}

// ParseDiff reads a zero-context unified diff. Deleted files are reported
// with no changed lines.
func ParseDiff(output []byte) ([]ChangedFile, error) {
	scanner := bufio.NewScanner(bytes.NewReader(output))
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var changes []ChangedFile
	var current *ChangedFile
	flush := func() {
		if current != nil {
			changes = append(changes, *current)
			current = nil
		}
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "diff --git"):
			flush()
			parts := strings.Fields(line)
			if len(parts) >= 4 {
				current = &ChangedFile{Path: strings.TrimPrefix(parts[3], "b/"), ChangedLines: []int{}}
			}
		case current == nil:
		case strings.HasPrefix(line, "@@"):
			m := chunkHeader.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			start, _ := strconv.Atoi(m[1])
			count := 1
			if m[2] != "" {
				count, _ = strconv.Atoi(m[2])
			}
			// A pure deletion still touches the line it was removed at.
			if count == 0 {
				current.ChangedLines = append(current.ChangedLines, start)
				continue
			}
			for i := 0; i < count; i++ {
				current.ChangedLines = append(current.ChangedLines, start+i)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read diff: %w", err)
	}
	flush()
	return changes, nil
}
