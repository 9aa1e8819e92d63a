package msa

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// ParseFasta reads an aligned FASTA or A3M stream. Lowercase residues and '.'
// columns mark insertions relative to the query and are dropped, so every
// returned sequence has the same length as the first.
func ParseFasta(r io.Reader) ([]string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var sequences []string
	var current strings.Builder
	sawHeader := false

	flush := func() {
		if current.Len() > 0 {
			sequences = append(sequences, current.String())
			current.Reset()
		}
	}

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, ">") || strings.HasPrefix(line, ";") {
			sawHeader = true
			flush()
			continue
		}
		if !sawHeader {
			return nil, fmt.Errorf("msa: expected FASTA header, got %q", truncate(line, 40))
		}
		current.WriteString(stripInsertions(line))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	flush()

	if len(sequences) == 0 {
		return nil, fmt.Errorf("msa: no sequences found")
	}
	length := len(sequences[0])
	for i, seq := range sequences {
		if len(seq) != length {
			return nil, fmt.Errorf("msa: sequence %d has length %d, want %d", i, len(seq), length)
		}
	}
	return sequences, nil
}

// ParseFastaFile reads an alignment from disk.
func ParseFastaFile(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	sequences, err := ParseFasta(file)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return sequences, nil
}

func stripInsertions(line string) string {
	var b strings.Builder
	b.Grow(len(line))
	for i := 0; i < len(line); i++ {
		c := line[i]
		if c == '.' || (c >= 'a' && c <= 'z') {
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
