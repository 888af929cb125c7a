package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fpang/penguin-studio/internal/apperr"
)

// PromptForIdea asks for a prompt on out and reads one line from in.
func PromptForIdea(in io.Reader, out io.Writer) (string, error) {
	fmt.Fprint(out, "What should the penguin do? ")

	reader := bufio.NewReader(in)
	input, err := reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read prompt: %w", err)
	}
	input = strings.TrimSpace(input)
	if input == "" {
		return "", apperr.Validation("Prompt is required")
	}
	return input, nil
}

// Describe turns a workflow error into a one-line message for the terminal.
func Describe(err error) string {
	e, ok := apperr.As(err)
	if !ok {
		return err.Error()
	}
	switch e.Kind {
	case apperr.KindRateLimit:
		if secs, ok := e.Details["retryAfter"].(int); ok {
			return fmt.Sprintf("Rate limit exceeded. Try again in %d seconds", secs)
		}
		return "Rate limit exceeded. Please try again later"
	case apperr.KindTimeout:
		return e.Error() + ". The provider may still finish; check records list later"
	default:
		return e.Error()
	}
}
