package feedback

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// StdinAsker reads notes line by line until an empty line or EOF. An empty
// first line means no notes.
type StdinAsker struct {
	in  *bufio.Reader
	out io.Writer
}

func NewStdinAsker(in io.Reader, out io.Writer) *StdinAsker {
	return &StdinAsker{in: bufio.NewReader(in), out: out}
}

// Ask prints the question and reads the answer. The read runs in its own
// goroutine so ctx can end the wait; that goroutine stays blocked on the
// reader until the next line arrives.
func (a *StdinAsker) Ask(ctx context.Context, q Question) (Answer, error) {
	fmt.Fprintf(a.out, "\n%s\n", header(q))
	fmt.Fprintln(a.out, "Enter notes for another round, then an empty line. Empty input accepts the result.")

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		var b strings.Builder
		for {
			line, err := a.in.ReadString('\n')
			if err != nil && err != io.EOF {
				done <- result{err: err}
				return
			}
			trimmed := strings.TrimRight(line, "\r\n")
			if trimmed == "" {
				done <- result{text: b.String()}
				return
			}
			b.WriteString(trimmed)
			b.WriteByte('\n')
			if err == io.EOF {
				done <- result{text: b.String()}
				return
			}
		}
	}()

	select {
	case <-ctx.Done():
		return Answer{}, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return Answer{}, fmt.Errorf("read feedback: %w", r.err)
		}
		return answerFrom(r.text), nil
	}
}

func header(q Question) string {
	var parts []string
	if q.Repetition > 0 {
		parts = append(parts, fmt.Sprintf("Round %d", q.Repetition))
	}
	if q.Subject != "" {
		parts = append(parts, q.Subject)
	}
	h := strings.Join(parts, " · ")
	if q.Prompt != "" {
		if h != "" {
			h += "\n"
		}
		h += q.Prompt
	}
	return h
}
