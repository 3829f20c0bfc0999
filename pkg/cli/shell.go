// Package cli is the interactive host over the index's own public API:
// a line-reading shell over the index dot-commands
// (insert/get/remove/flush/stats/print).
package cli

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Shell reads one line of input at a time and prints the prompt tur's
// shell uses, minus the multi-line statement continuation — every command
// here fits on one line.
type Shell struct {
	reader *bufio.Reader
	output io.Writer
	prompt string
}

// NewShell creates a shell reading from input and prompting on output.
func NewShell(input io.Reader, output io.Writer) *Shell {
	return &Shell{
		reader: bufio.NewReader(input),
		output: output,
		prompt: "indextree> ",
	}
}

// SetPrompt changes the prompt string.
func (s *Shell) SetPrompt(p string) { s.prompt = p }

// ReadLine prints the prompt and reads one line, reporting eof when the
// input is exhausted (the returned line may still hold trailing content
// read before EOF).
func (s *Shell) ReadLine() (line string, eof bool) {
	fmt.Fprint(s.output, s.prompt)
	raw, err := s.reader.ReadString('\n')
	if err != nil {
		return strings.TrimRight(raw, "\r\n"), true
	}
	return strings.TrimRight(raw, "\r\n"), false
}
