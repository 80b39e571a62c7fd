package sh

import (
	"fmt"

	"github.com/abiosoft/ishell"
)

// PromptLine reads one line from the console. The line terminator is
// not part of the result.
func PromptLine(prompt string) (string, error) {
	s := ishell.New()
	defer s.Close()
	s.SetPrompt(prompt)
	line, err := s.ReadLineErr()
	if err != nil {
		return "", fmt.Errorf("read line: %w", err)
	}
	return line, nil
}
