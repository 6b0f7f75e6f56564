package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrAborted reports that the user quit at a prompt.
var ErrAborted = errors.New("restore aborted")

// promptLine reads one trimmed line. A quit token aborts.
func promptLine(reader *bufio.Reader, label string) (string, error) {
	fmt.Printf("%s: ", label)
	input, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	input = strings.TrimSpace(input)
	if quitToken(input) {
		return "", ErrAborted
	}
	return input, nil
}

func quitToken(s string) bool {
	switch strings.ToLower(s) {
	case "q", "quit":
		return true
	}
	return false
}

// promptIndex asks for a 1-based index until a valid one is entered.
func promptIndex(reader *bufio.Reader, label string, max int) (int, error) {
	for {
		input, err := promptLine(reader, fmt.Sprintf("%s (1-%d)", label, max))
		if err != nil {
			return 0, err
		}
		idx, err := strconv.Atoi(input)
		if err != nil || idx < 1 || idx > max {
			fmt.Printf("Please enter a number between 1 and %d.\n", max)
			continue
		}
		return idx, nil
	}
}

// promptConfirm asks a yes/no question. Empty input means no.
func promptConfirm(reader *bufio.Reader, label string) (bool, error) {
	for {
		input, err := promptLine(reader, label+" (yes/no)")
		if err != nil {
			return false, err
		}
		switch strings.ToLower(input) {
		case "yes", "y":
			return true, nil
		case "no", "n", "":
			return false, nil
		}
		fmt.Println(`Please answer "yes" or "no".`)
	}
}

// promptWithDefault asks the user for input, providing a default if input is empty.
func promptWithDefault(reader *bufio.Reader, label, defaultValue string) (string, error) {
	input, err := promptLine(reader, fmt.Sprintf("%s (%s)", label, defaultValue))
	if err != nil {
		return "", err
	}
	if input == "" {
		return defaultValue, nil
	}
	return input, nil
}

// promptIntWithDefault is a convenience wrapper for integer prompts.
func promptIntWithDefault(reader *bufio.Reader, label string, defaultValue int) (int, error) {
	valStr, err := promptWithDefault(reader, label, strconv.Itoa(defaultValue))
	if err != nil {
		return 0, err
	}
	val, err := strconv.Atoi(valStr)
	if err != nil {
		return 0, fmt.Errorf("invalid number provided: %q", valStr)
	}
	return val, nil
}

// parseIndexes parses a comma-separated list of 1-based indexes.
func parseIndexes(input string, max int) ([]int, error) {
	var indexes []int
	for _, part := range strings.Split(input, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		idx, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("%q is not a number", part)
		}
		if idx < 1 || idx > max {
			return nil, fmt.Errorf("%d is out of range 1-%d", idx, max)
		}
		indexes = append(indexes, idx)
	}
	if len(indexes) == 0 {
		return nil, fmt.Errorf("empty selection")
	}
	return indexes, nil
}
