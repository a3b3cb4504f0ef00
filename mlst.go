package ftp

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MLEntry is a machine-readable directory entry from MLST/MLSD, RFC 3659's
// unambiguous alternative to LIST's server-specific text format.
type MLEntry struct {
	Name     string
	Type     string // "file", "dir", "cdir" (current), "pdir" (parent), or "link"
	Size     int64
	ModTime  time.Time
	Perm     string // e.g. "r", "w", "a", "d", "f"
	UnixMode string // Unix file mode, if the server sent unix.mode

	// Facts holds every raw fact the server sent, keyed lowercase.
	Facts map[string]string
}

// MLStat returns facts about a single path via MLST.
func (c *Client) MLStat(path string) (*MLEntry, error) {
	resp, err := c.sendCommand("MLST", c.protectWhitespace(path))
	if err != nil {
		return nil, err
	}
	if resp.Code != 250 {
		return nil, &ProtocolError{Command: "MLST", Response: resp.Message, Code: resp.Code}
	}

	// The entry line is the multi-line reply's continuation: "250-Listing
	// path\n facts entry-name\n250 End".
	if len(resp.Lines) < 2 {
		return nil, &ParseError{Context: "MLST reply", Input: resp.Message, Err: fmt.Errorf("too few lines")}
	}

	var entryLine string
	for _, line := range resp.Lines {
		if len(line) >= 4 && (line[3] == '-' || line[3] == ' ') {
			continue // status line
		}
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			entryLine = trimmed
			break
		}
	}
	if entryLine == "" {
		return nil, &ParseError{Context: "MLST reply", Input: resp.Message, Err: fmt.Errorf("no entry line found")}
	}

	return parseMLEntry(entryLine)
}

// MLList returns a machine-readable directory listing via MLSD.
func (c *Client) MLList(path string) ([]*MLEntry, error) {
	dataConn, err := c.cmdDataConnForPath("MLSD", c.protectWhitespace(path))
	if err != nil {
		return nil, err
	}

	var entries []*MLEntry
	scanner := bufio.NewScanner(dataConn)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if entry, parseErr := parseMLEntry(line); parseErr == nil {
			entries = append(entries, entry)
		}
	}

	if err := scanner.Err(); err != nil {
		dataConn.Close()
		return nil, &TransportError{Op: "read MLSD output", Err: err}
	}
	if err := c.finishDataConn(dataConn); err != nil {
		return nil, err
	}
	return entries, nil
}

// parseMLEntry parses a single MLST/MLSD entry line.
// Format: "facts entry-name"
// Facts format: "fact1=value1;fact2=value2;fact3=value3; "
func parseMLEntry(line string) (*MLEntry, error) {
	// Find the space that separates facts from the name
	spaceIdx := strings.Index(line, " ")
	if spaceIdx == -1 {
		return nil, &ParseError{Context: "ML entry", Input: line, Err: fmt.Errorf("no space separator")}
	}

	factsStr := line[:spaceIdx]
	name := line[spaceIdx+1:]

	// Parse facts
	facts := make(map[string]string)
	factPairs := strings.Split(factsStr, ";")
	for _, pair := range factPairs {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}

		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			continue
		}

		factName := strings.ToLower(parts[0])
		factValue := parts[1]
		facts[factName] = factValue
	}

	// Build the entry
	entry := &MLEntry{
		Name:  name,
		Facts: facts,
	}

	// Extract common facts
	if typeVal, ok := facts["type"]; ok {
		entry.Type = strings.ToLower(typeVal)
	}

	if sizeVal, ok := facts["size"]; ok {
		if size, err := strconv.ParseInt(sizeVal, 10, 64); err == nil {
			entry.Size = size
		}
	}

	if modifyVal, ok := facts["modify"]; ok {
		// Format: YYYYMMDDHHMMSS or YYYYMMDDHHMMSS.sss
		// Remove fractional seconds if present
		timestamp := strings.Split(modifyVal, ".")[0]
		if len(timestamp) == 14 {
			if modTime, err := time.Parse("20060102150405", timestamp); err == nil {
				entry.ModTime = modTime.UTC()
			}
		}
	}

	if permVal, ok := facts["perm"]; ok {
		entry.Perm = permVal
	}

	if modeVal, ok := facts["unix.mode"]; ok {
		entry.UnixMode = modeVal
	}

	return entry, nil
}
