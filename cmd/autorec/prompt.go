package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"autorec/internal/capture"
)

// linePrompter answers capture prompts on the terminal. When input is not
// interactive it picks the first source and accepts degraded recordings.
type linePrompter struct {
	in          *bufio.Reader
	out         io.Writer
	interactive bool
}

func newLinePrompter(in *bufio.Reader, out io.Writer, interactive bool) *linePrompter {
	return &linePrompter{in: in, out: out, interactive: interactive}
}

func (p *linePrompter) SelectSource(ctx context.Context, sources []capture.Source) (capture.Source, error) {
	if len(sources) == 0 {
		return capture.Source{}, errors.New("no capture sources available")
	}
	if !p.interactive {
		fmt.Fprintf(p.out, "Sharing %s\n", sources[0].Name)
		return sources[0], nil
	}

	fmt.Fprintln(p.out, "Choose what to share:")
	for i, src := range sources {
		fmt.Fprintf(p.out, "  %d) %s [%s]\n", i+1, src.Name, src.Kind)
	}
	for {
		fmt.Fprint(p.out, "Source number (empty to cancel): ")
		line, err := p.readLine(ctx)
		if err != nil {
			return capture.Source{}, err
		}
		if line == "" || strings.EqualFold(line, "q") {
			return capture.Source{}, capture.ErrCancelled
		}
		n, err := strconv.Atoi(line)
		if err != nil || n < 1 || n > len(sources) {
			fmt.Fprintf(p.out, "Enter a number between 1 and %d\n", len(sources))
			continue
		}
		return sources[n-1], nil
	}
}

func (p *linePrompter) Confirm(ctx context.Context, question string) (bool, error) {
	if !p.interactive {
		fmt.Fprintln(p.out, question+" yes")
		return true, nil
	}
	fmt.Fprint(p.out, question+" [Y/n] ")
	line, err := p.readLine(ctx)
	if err != nil {
		return false, err
	}
	switch strings.ToLower(line) {
	case "", "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

// readLine blocks for one line of input. A cancelled context abandons the
// read; the pending line is consumed by the next reader.
func (p *linePrompter) readLine(ctx context.Context) (string, error) {
	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := p.in.ReadString('\n')
		ch <- result{line: strings.TrimSpace(line), err: err}
	}()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-ch:
		if r.err != nil && (r.line == "" || !errors.Is(r.err, io.EOF)) {
			if errors.Is(r.err, io.EOF) {
				return "", capture.ErrCancelled
			}
			return "", r.err
		}
		return r.line, nil
	}
}
