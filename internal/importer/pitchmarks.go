package importer

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/book-expert/voice-timeline/internal/fsutil"
)

// PitchmarkExtension is the extension of the pitchmark file paired with a recording.
const PitchmarkExtension = ".pm"

// ReadPitchmarks reads sample positions separated by whitespace. Lines
// starting with '#' are skipped.
func ReadPitchmarks(r io.Reader) ([]int, error) {
	var marks []int

	scanner := bufio.NewScanner(r)
	line := 0

	for scanner.Scan() {
		line++

		text := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(text, "#") {
			continue
		}

		for _, field := range strings.Fields(text) {
			mark, parseErr := strconv.Atoi(field)
			if parseErr != nil {
				return nil, fmt.Errorf("%w: line %d: %w", ErrInvalidPitchmarks, line, parseErr)
			}

			marks = append(marks, mark)
		}
	}

	scanErr := scanner.Err()
	if scanErr != nil {
		return nil, fmt.Errorf("failed to read pitchmarks: %w", scanErr)
	}

	return marks, nil
}

// LoadPitchmarks reads the pitchmarks of the recording at wavePath from dir,
// where they are stored as <basename>.pm.
func LoadPitchmarks(dir, wavePath string) ([]int, error) {
	path := filepath.Join(dir, fsutil.Basename(wavePath)+PitchmarkExtension)

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open pitchmarks %s: %w", path, err)
	}
	defer file.Close()

	marks, err := ReadPitchmarks(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return marks, nil
}
