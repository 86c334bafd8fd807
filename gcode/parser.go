package gcode

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// Parser reads program lines from a stream.
//
// Comments, blank lines and trailing whitespace are dropped.
type Parser struct{ br *bufio.Reader }

func NewParser(r io.Reader) *Parser {
	if br, ok := r.(*bufio.Reader); ok {
		return &Parser{br: br}
	}

	return &Parser{br: bufio.NewReader(r)}
}

var (
	rx      = regexp.MustCompile(`^([A-Z][0-9.\-]+)+$`)
	rxSplit = regexp.MustCompile(`[A-Z][0-9.\-]+`)

	rxComment = regexp.MustCompile(`\([^)]*\)`)
)

func stripComments(s string) string {
	s = strings.SplitN(s, ";", 2)[0]
	s = rxComment.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// Read returns the next non-empty line.
func (p *Parser) Read() (string, error) {
	for {
		s, err := p.br.ReadString('\n')
		if err == io.EOF && s != "" {
			err = nil
		}
		if err != nil {
			return "", err
		}

		s = stripComments(s)
		if s == "" {
			continue
		}

		return s, nil
	}
}

// ReadProgram reads every line of a program.
func ReadProgram(r io.Reader) ([]string, error) {
	p := NewParser(r)
	var lines []string
	for {
		s, err := p.Read()
		if err == io.EOF {
			return lines, nil
		}
		if err != nil {
			return nil, err
		}
		lines = append(lines, s)
	}
}

// ParseBlock parses a single line of plain gcode words.
//
// Control lines (`$`, `@`, realtime bytes) are not valid blocks.
func ParseBlock(s string) (Block, error) {
	s = stripComments(s)
	s = strings.Replace(s, " ", "", -1)
	s = strings.ToUpper(s)

	if !rx.MatchString(s) {
		return nil, errors.New("invalid or unhandled line: " + s)
	}

	codes := rxSplit.FindAllString(s, -1)
	res := make(Block, len(codes))

	for i, c := range codes {
		_, err := fmt.Sscanf(c, "%c%f", &res[i].W, &res[i].Arg)
		if err != nil {
			return nil, err
		}
	}

	return res, nil
}
