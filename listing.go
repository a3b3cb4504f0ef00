package ftp

import (
	"bufio"
	"net"
	"strconv"
	"strings"
)

// Entry represents a file or directory entry from a LIST command.
type Entry struct {
	Name   string
	Type   string // "file", "dir", or "link"
	Size   int64
	Target string // for symlinks, the target path (empty for files/dirs)
	Raw    string // the raw line from the LIST command
}

// ListingParser parses one line of a LIST reply into an Entry. Callers may
// supply their own via WithListingParser to support a non-standard format;
// a custom parser is tried ahead of the built-in Unix/DOS/EPLF chain, and a
// line it declines still falls through to the built-ins.
type ListingParser interface {
	Parse(line string) (*Entry, bool)
}

// UnixParser parses Unix-style directory entries (8- or 9-field `ls -l`
// output, including numeric permission bits).
type UnixParser struct{}

func (p *UnixParser) Parse(line string) (*Entry, bool) {
	fields := strings.Fields(line)
	if len(fields) < 8 {
		return nil, false
	}
	entry := &Entry{Raw: line}
	if parseUnixEntry(entry, fields) {
		return entry, true
	}
	return nil, false
}

// DOSParser parses DOS/Windows-style directory entries.
type DOSParser struct{}

func (p *DOSParser) Parse(line string) (*Entry, bool) {
	fields := strings.Fields(line)
	if len(fields) < 4 {
		return nil, false
	}
	if !isDOSDate(fields[0]) {
		return nil, false
	}
	entry := &Entry{Raw: line}
	if parseDOSEntry(entry, fields) {
		return entry, true
	}
	return nil, false
}

// EPLFParser parses Easily Parsed LIST Format entries.
type EPLFParser struct{}

func (p *EPLFParser) Parse(line string) (*Entry, bool) {
	if !strings.HasPrefix(line, "+") {
		return nil, false
	}
	entry := &Entry{Raw: line}
	if parseEPLFEntry(entry, line) {
		return entry, true
	}
	return nil, false
}

// compositeParser tries each configured parser in order, falling back to a
// Type:"unknown" entry rather than dropping the line silently.
type compositeParser struct {
	parsers []ListingParser
	logger  Logger
}

func (p *compositeParser) parse(line string) *Entry {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return nil
	}

	for _, parser := range p.parsers {
		if entry, ok := parser.Parse(trimmed); ok {
			return entry
		}
	}

	p.logger.Debug("unable to parse LIST line, unknown format", "raw", line)
	return &Entry{Raw: line, Name: line, Type: "unknown"}
}

// parseListLine parses a single LIST line with the given parsers, falling
// back to the built-in Unix/DOS/EPLF chain when parsers is empty.
func parseListLine(line string, parsers []ListingParser) *Entry {
	if len(parsers) == 0 {
		parsers = []ListingParser{&EPLFParser{}, &DOSParser{}, &UnixParser{}}
	}
	p := &compositeParser{parsers: parsers, logger: defaultLogger}
	return p.parse(line)
}

// parseUnixEntry parses a Unix-style directory entry, handling both
// 9-field and 8-field (no group column) formats, and symbolic or numeric
// permission bits.
func parseUnixEntry(entry *Entry, fields []string) bool {
	perms := fields[0]

	isSymbolic := len(perms) >= 1 && (perms[0] == '-' || perms[0] == 'd' ||
		perms[0] == 'l' || perms[0] == 'b' || perms[0] == 'c' ||
		perms[0] == 'p' || perms[0] == 's')

	isNumeric := len(perms) >= 3 && len(perms) <= 4
	for _, ch := range perms {
		if ch < '0' || ch > '7' {
			isNumeric = false
			break
		}
	}

	if !isSymbolic && !isNumeric {
		return false
	}

	if isSymbolic {
		switch perms[0] {
		case 'd':
			entry.Type = "dir"
		case 'l':
			entry.Type = "link"
		default:
			entry.Type = "file"
		}
	} else {
		entry.Type = "file"
	}

	var sizeIdx, nameStartIdx int
	switch {
	case len(fields) >= 9:
		if _, err := parseSize(fields[4]); err == nil {
			sizeIdx, nameStartIdx = 4, 8
		} else if _, err := parseSize(fields[3]); err == nil {
			sizeIdx, nameStartIdx = 3, 7
		} else {
			return false
		}
	case len(fields) >= 8:
		if _, err := parseSize(fields[3]); err == nil {
			sizeIdx, nameStartIdx = 3, 7
		} else {
			return false
		}
	default:
		return false
	}

	size, err := parseSize(fields[sizeIdx])
	if err != nil {
		return false
	}
	entry.Size = size

	fullName := strings.Join(fields[nameStartIdx:], " ")
	if entry.Type == "link" {
		if before, after, ok := strings.Cut(fullName, " -> "); ok {
			entry.Name = before
			entry.Target = after
		} else {
			entry.Name = fullName
		}
	} else {
		entry.Name = fullName
	}

	return true
}

// parseEPLFEntry parses an EPLF line: "+facts\tname" or "+facts name".
// Facts are comma-separated, each a one-letter tag followed directly by
// its value (e.g. "i8388621.48594,m825718503,s280,/,r,").
func parseEPLFEntry(entry *Entry, line string) bool {
	if !strings.HasPrefix(line, "+") {
		return false
	}
	line = line[1:]

	idx := strings.IndexAny(line, "\t ")
	if idx == -1 {
		return false
	}
	facts := line[:idx]
	name := strings.TrimSpace(line[idx+1:])
	if name == "" {
		return false
	}

	entry.Name = name
	entry.Type = "file"

	for _, fact := range strings.Split(facts, ",") {
		if fact == "" {
			continue
		}
		switch fact[0] {
		case '/':
			entry.Type = "dir"
		case 's':
			if len(fact) > 1 {
				if size, err := parseSize(fact[1:]); err == nil {
					entry.Size = size
				}
			}
		}
	}

	return true
}

// isDOSDate reports whether s looks like a DOS/Windows date (MM-DD-YY[YY]
// or MM/DD/YY[YY]).
func isDOSDate(s string) bool {
	var parts []string
	switch {
	case strings.Contains(s, "-"):
		parts = strings.Split(s, "-")
	case strings.Contains(s, "/"):
		parts = strings.Split(s, "/")
	default:
		return false
	}
	if len(parts) != 3 {
		return false
	}
	for i, part := range parts {
		if len(part) < 1 || len(part) > 4 {
			return false
		}
		if i == 2 && len(part) != 2 && len(part) != 4 {
			return false
		}
		if i < 2 && len(part) > 2 {
			return false
		}
		for _, ch := range part {
			if ch < '0' || ch > '9' {
				return false
			}
		}
	}
	return true
}

// parseDOSEntry parses a DOS/Windows-style directory entry, e.g.
// "09-24-24  10:30AM       <DIR>          logs" or
// "12-14-23  12:22PM           1037794 report.pdf".
func parseDOSEntry(entry *Entry, fields []string) bool {
	if len(fields) < 4 {
		return false
	}

	if fields[2] == "<DIR>" {
		entry.Type = "dir"
		entry.Size = 0
		entry.Name = strings.Join(fields[3:], " ")
		return true
	}

	size, err := parseSize(fields[2])
	if err != nil {
		return false
	}
	entry.Type = "file"
	entry.Size = size
	entry.Name = strings.Join(fields[3:], " ")
	return true
}

func parseSize(sizeStr string) (int64, error) {
	return strconv.ParseInt(sizeStr, 10, 64)
}

// List returns the directory listing for path ("" lists the current
// directory). It discovers the best listing command once per session,
// trying MLSD, then "LIST -a", then plain LIST in order, moving on to the
// next candidate only on a 5xx reply, and caching the first that succeeds
// so later calls go straight to it. MLSD is always attempted regardless of what FEAT advertised, since
// some servers support it without listing it. Use MLList/MLStat directly
// when the caller specifically wants RFC 3659 facts regardless of what List
// negotiated.
func (c *Client) List(path string) ([]*Entry, error) {
	path = c.protectWhitespace(path)

	if c.listCmd != "" {
		return c.listWith(c.listCmd, path)
	}

	candidates := []string{"MLSD", "LIST -a", "LIST"}

	var lastErr error
	for _, cmd := range candidates {
		entries, err := c.listWith(cmd, path)
		if err == nil {
			c.listCmd = cmd
			return entries, nil
		}
		lastErr = err
		var protoErr *ProtocolError
		if isProtocolError(err, &protoErr) && protoErr.Is5xx() {
			continue
		}
		return nil, err
	}
	return nil, lastErr
}

// listWith issues cmd (optionally carrying a flag, e.g. "LIST -a") against
// path and parses the data-connection output with the parser appropriate
// to that command.
func (c *Client) listWith(cmd, path string) ([]*Entry, error) {
	base, flag, _ := strings.Cut(cmd, " ")

	var args []string
	if flag != "" {
		args = append(args, flag)
	}
	if path != "" {
		args = append(args, path)
	}

	dataConn, err := c.cmdDataConnFrom(base, args...)
	if err != nil {
		return nil, err
	}

	var entries []*Entry
	scanner := bufio.NewScanner(dataConn)
	for scanner.Scan() {
		line := scanner.Text()
		if base == "MLSD" {
			if mlEntry, perr := parseMLEntry(strings.TrimSpace(line)); perr == nil {
				entries = append(entries, entryFromML(mlEntry))
			}
			continue
		}
		if entry := parseListLine(line, c.parsers); entry != nil {
			entries = append(entries, entry)
		}
	}
	if err := scanner.Err(); err != nil {
		dataConn.Close()
		return nil, &TransportError{Op: "read " + base + " output", Err: err}
	}

	if err := c.finishDataConn(dataConn); err != nil {
		return nil, err
	}
	return entries, nil
}

// isProtocolError is errors.As for *ProtocolError without importing
// errors in this file solely for that one call.
func isProtocolError(err error, target **ProtocolError) bool {
	pe, ok := err.(*ProtocolError)
	if !ok {
		return false
	}
	*target = pe
	return true
}

// entryFromML adapts a machine-listing fact line into the uniform Entry
// type List returns, so callers don't need to care which command the
// session negotiated. MLSx's "cdir"/"pdir" (the listed directory itself
// and its parent) collapse to "dir".
func entryFromML(e *MLEntry) *Entry {
	typ := e.Type
	switch typ {
	case "cdir", "pdir":
		typ = "dir"
	case "":
		typ = "file"
	}
	return &Entry{Name: e.Name, Type: typ, Size: e.Size}
}

// NameList returns just the names in path using NLST, one per line, with
// no type/size information.
func (c *Client) NameList(path string) ([]string, error) {
	dataConn, err := c.cmdDataConnForPath("NLST", c.protectWhitespace(path))
	if err != nil {
		return nil, err
	}

	var names []string
	scanner := bufio.NewScanner(dataConn)
	for scanner.Scan() {
		if name := strings.TrimSpace(scanner.Text()); name != "" {
			names = append(names, name)
		}
	}
	if err := scanner.Err(); err != nil {
		dataConn.Close()
		return nil, &TransportError{Op: "read NLST output", Err: err}
	}

	if err := c.finishDataConn(dataConn); err != nil {
		return nil, err
	}
	return names, nil
}

// cmdDataConnForPath is cmdDataConnFrom with the "omit the argument
// entirely when path is empty" convention LIST/NLST/MLSD share, since some
// servers reply differently to "LIST " (trailing space) than to "LIST".
func (c *Client) cmdDataConnForPath(cmd, path string) (net.Conn, error) {
	if path == "" {
		return c.cmdDataConnFrom(cmd)
	}
	return c.cmdDataConnFrom(cmd, path)
}
