// Package parse loads SfM pipeline output files and ground truth tables into
// evaluation models. Each supported reconstruction format implements Parser;
// the pipeline receives a parser by injection and never branches on formats
// internally.
package parse

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/davidemarelli/sfm-flow/internal/sfm"
)

// Parser loads one reconstruction file format into evaluation models.
// A single file may contain several models (NVM does).
type Parser interface {
	// Name returns the human readable format name.
	Name() string
	// Supports reports whether the parser handles the given file path.
	Supports(path string) bool
	// Parse reads the reconstruction file into models.
	Parse(name, path string) ([]*sfm.Model, error)
}

// parsers is the registry of available format parsers.
var parsers = []Parser{
	&BundleParser{},
	&NVMParser{},
}

// ForFile returns the parser responsible for the given file path.
func ForFile(path string) (Parser, error) {
	for _, p := range parsers {
		if p.Supports(path) {
			return p, nil
		}
	}
	return nil, fmt.Errorf("no reconstruction parser for %q", path)
}

// frameNumberRegex extracts the trailing frame number from an image filename,
// tolerating VisualSFM's "/undistorted" suffix.
var frameNumberRegex = regexp.MustCompile(`.*?([0-9]+)(/undistorted)*\.[a-zA-Z]+$`)

// frameFromFilename returns the frame number encoded in an image filename,
// or -1 when the name carries none.
func frameFromFilename(name string) int {
	m := frameNumberRegex.FindStringSubmatch(strings.TrimSpace(name))
	if m == nil {
		return -1
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return -1
	}
	return n
}

// tokenReader yields whitespace-split tokens line by line, skipping blank
// lines and # comments, as both the Bundler and NVM formats require.
type tokenReader struct {
	scanner *bufio.Scanner
	line    int
}

func newTokenReader(r io.Reader) *tokenReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &tokenReader{scanner: sc}
}

// readLine returns the tokens of the next non-empty, non-comment line.
func (tr *tokenReader) readLine() ([]string, error) {
	for tr.scanner.Scan() {
		tr.line++
		line := strings.TrimSpace(tr.scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		return strings.Fields(line), nil
	}
	if err := tr.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

// readRawLine returns the next non-empty line verbatim, comments included.
// Bundler list files may contain arbitrary image paths.
func (tr *tokenReader) readRawLine() ([]string, error) {
	for tr.scanner.Scan() {
		tr.line++
		line := strings.TrimSpace(tr.scanner.Text())
		if line == "" {
			continue
		}
		return strings.Fields(line), nil
	}
	if err := tr.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

// readFloats reads a line and converts exactly n tokens to floats.
func (tr *tokenReader) readFloats(n int) ([]float64, error) {
	tokens, err := tr.readLine()
	if err != nil {
		return nil, err
	}
	if len(tokens) != n {
		return nil, fmt.Errorf("line %d: expected %d values, got %d", tr.line, n, len(tokens))
	}
	out := make([]float64, n)
	for i, t := range tokens {
		v, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: bad number %q: %w", tr.line, t, err)
		}
		out[i] = v
	}
	return out, nil
}
