package cli

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// readSecret returns value, or prompts for it without echo when value is
// "-".
func readSecret(value, prompt string) (string, error) {
	if value != "-" {
		return value, nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("%s: no TTY to prompt on", prompt)
	}
	fmt.Fprintf(os.Stderr, "%s: ", prompt)
	data, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	secret := strings.TrimSpace(string(data))
	if secret == "" {
		return "", fmt.Errorf("%s: empty input", prompt)
	}
	return secret, nil
}
