package runtime

import (
	"bufio"
	"bytes"
	"embed"
	"io/fs"
	"strings"

	"wediscuss/errors"
)

// CensoredData carries the result of the loading process including metadata
// for logging.
type CensoredData struct {
	Words     []string
	Languages []string
}

// CensoredLoader reads blacklisted words from embedded dictionary files.
type CensoredLoader struct {
	fs embed.FS
}

func NewCensoredLoader(f embed.FS) *CensoredLoader {
	return &CensoredLoader{fs: f}
}

// LoadAll scans the given directory path in the embedded FS, identifying
// .txt files as language dictionaries and parsing their contents into a
// unique list of words.
func (l *CensoredLoader) LoadAll(path string) (*CensoredData, error) {
	entries, err := fs.ReadDir(l.fs, path)
	if err != nil {
		return nil, err
	}

	var languages []string
	uniqueWords := make(map[string]struct{})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		// The filename carries the language ("fr.txt" -> "fr")
		lang := strings.TrimSuffix(entry.Name(), ".txt")
		languages = append(languages, lang)

		data, err := l.fs.ReadFile(path + "/" + entry.Name())
		if err != nil {
			return nil, err
		}

		// A scanner handles both \n and \r\n line endings
		scanner := bufio.NewScanner(bytes.NewReader(data))
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line != "" {
				uniqueWords[line] = struct{}{}
			}
		}
		if err := scanner.Err(); err != nil {
			return nil, err
		}
	}

	if len(uniqueWords) == 0 {
		return nil, errors.ErrEmptyWords
	}

	words := make([]string, 0, len(uniqueWords))
	for w := range uniqueWords {
		words = append(words, w)
	}

	return &CensoredData{
		Words:     words,
		Languages: languages,
	}, nil
}
