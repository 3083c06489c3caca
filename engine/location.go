package engine

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
)

var errPathNotFound = errors.New("path not found")

// Locate returns the 1-based line and column of the JSON member addressed by
// a FHIRPath-style location such as "Patient.name[0].given". When the exact
// member does not exist the position of its nearest existing ancestor is
// returned. ok is false if data is not a JSON object.
func Locate(data []byte, path string) (line, col int, ok bool) {
	segs := splitPath(path)
	for n := len(segs); n >= 0; n-- {
		dec := json.NewDecoder(bytes.NewReader(data))
		off, err := seek(dec, segs[:n])
		if err != nil {
			continue
		}
		line, col = lineCol(data, skipSeparators(data, off))
		return line, col, true
	}
	return 0, 0, false
}

// splitPath turns "Patient.identifier[0].value" into
// ["identifier", "0", "value"]. A leading capitalised type name is dropped.
func splitPath(path string) []string {
	if path == "" {
		return nil
	}
	var segs []string
	for _, part := range strings.Split(path, ".") {
		name, idx, hasIdx := strings.Cut(part, "[")
		if name != "" {
			segs = append(segs, name)
		}
		if hasIdx {
			segs = append(segs, strings.TrimSuffix(idx, "]"))
		}
	}
	if len(segs) > 0 && segs[0] != "" && segs[0][0] >= 'A' && segs[0][0] <= 'Z' {
		segs = segs[1:]
	}
	return segs
}

// seek consumes the value at the decoder's position and returns the input
// offset just before the member addressed by segs.
func seek(dec *json.Decoder, segs []string) (int, error) {
	start := int(dec.InputOffset())
	tok, err := dec.Token()
	if err != nil {
		return 0, err
	}
	delim, isDelim := tok.(json.Delim)
	if len(segs) == 0 {
		if !isDelim || delim != '{' {
			return 0, errPathNotFound
		}
		return start, nil
	}

	target := segs[0]
	if idx, convErr := strconv.Atoi(target); convErr == nil {
		if !isDelim || delim != '[' {
			return 0, errPathNotFound
		}
		for i := 0; dec.More(); i++ {
			if i == idx {
				if len(segs) == 1 {
					return int(dec.InputOffset()), nil
				}
				return seek(dec, segs[1:])
			}
			if err := skipValue(dec); err != nil {
				return 0, err
			}
		}
		return 0, errPathNotFound
	}

	if !isDelim || delim != '{' {
		return 0, errPathNotFound
	}
	for dec.More() {
		off := int(dec.InputOffset())
		keyTok, err := dec.Token()
		if err != nil {
			return 0, err
		}
		if key, _ := keyTok.(string); key == target {
			if len(segs) == 1 {
				return off, nil
			}
			return seek(dec, segs[1:])
		}
		if err := skipValue(dec); err != nil {
			return 0, err
		}
	}
	return 0, errPathNotFound
}

func skipValue(dec *json.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if _, ok := tok.(json.Delim); !ok {
		return nil
	}
	for depth := 1; depth > 0; {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		if d, ok := tok.(json.Delim); ok {
			switch d {
			case '{', '[':
				depth++
			case '}', ']':
				depth--
			}
		}
	}
	return nil
}

// skipSeparators advances off past whitespace and the separators the decoder
// leaves in front of the next token.
func skipSeparators(data []byte, off int) int {
	for off < len(data) {
		switch data[off] {
		case ' ', '\t', '\r', '\n', ',', ':':
			off++
		default:
			return off
		}
	}
	return off
}

func lineCol(data []byte, off int) (line, col int) {
	line, col = 1, 1
	for i := 0; i < off && i < len(data); i++ {
		if data[i] == '\n' {
			line++
			col = 1
		} else {
			col++
		}
	}
	return line, col
}
