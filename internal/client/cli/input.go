package cli

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dmitrijs2005/gophsync/internal/entity"
	"golang.org/x/term"
)

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

// GetSimpleText prints a prompt to w and reads a single line of input from reader.
// The trailing newline is trimmed. If EOF occurs after some input was read,
// the partial line is returned.
func GetSimpleText(reader *bufio.Reader, prompt string, w io.Writer) (string, error) {
	if _, err := fmt.Fprint(w, prompt+"\n> "); err != nil {
		return "", err
	}
	line, err := reader.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && len(line) > 0 {
			return strings.TrimSpace(line), nil
		}
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// GetPassword reads a password from the terminal without echo.
func GetPassword(w io.Writer) (string, error) {
	if _, err := fmt.Fprint(w, "Enter password: "); err != nil {
		return "", err
	}
	pw, err := readPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(w)
	if err != nil {
		return "", err
	}
	return string(pw), nil
}

// GetFields reads "name=value" lines until an empty line or EOF. A value
// that parses as JSON keeps its JSON type, anything else is a string.
func GetFields(reader *bufio.Reader, w io.Writer) (map[string]entity.Value, error) {
	fmt.Fprintln(w, "Enter fields as name=value (empty line to finish)")

	fields := make(map[string]entity.Value)
	for {
		line, err := reader.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		name, raw, ok := strings.Cut(line, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("bad field line %q", line)
		}
		fields[name] = parseFieldValue(strings.TrimSpace(raw))
		if err != nil {
			break
		}
	}
	return fields, nil
}

func parseFieldValue(raw string) entity.Value {
	if json.Valid([]byte(raw)) {
		if v, err := entity.DecodeValue([]byte(raw)); err == nil {
			return v
		}
	}
	return entity.String(raw)
}
