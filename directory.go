package ftp

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"
)

// WalkFunc is the type of the function called for each entry visited by
// Walk. path carries the argument to Walk as a prefix.
//
// If the callback returns SkipDir when invoking it on a directory, Walk
// skips that directory's contents. Any other non-nil error stops the walk.
type WalkFunc func(path string, info *Entry, err error) error

// SkipDir tells Walk to skip the directory or remaining siblings.
var SkipDir = filepath.SkipDir

// Walk walks the remote tree rooted at root in lexical order, calling
// walkFn for every entry including root itself. It does not follow
// symbolic links.
func (c *Client) Walk(root string, walkFn WalkFunc) error {
	var rootEntry *Entry
	cleanRoot := path.Clean(root)

	if cleanRoot == "." || cleanRoot == "/" {
		rootEntry = &Entry{Name: cleanRoot, Type: "dir"}
	} else {
		parent := path.Dir(cleanRoot)
		if parent == "." && !strings.Contains(cleanRoot, "/") {
			parent = ""
		}
		entries, err := c.List(parent)
		if err != nil {
			return walkFn(root, nil, err)
		}
		target := path.Base(cleanRoot)
		for _, e := range entries {
			if e.Name == target {
				rootEntry = e
				break
			}
		}
		if rootEntry == nil {
			return walkFn(root, nil, os.ErrNotExist)
		}
	}

	return c.walk(cleanRoot, rootEntry, walkFn)
}

func (c *Client) walk(pathStr string, info *Entry, walkFn WalkFunc) error {
	if err := walkFn(pathStr, info, nil); err != nil {
		if info != nil && info.Type == "dir" && err == SkipDir {
			return nil
		}
		return err
	}

	if info == nil || info.Type != "dir" {
		return nil
	}

	entries, err := c.List(pathStr)
	if err != nil {
		return walkFn(pathStr, info, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	for _, entry := range entries {
		if entry.Name == "." || entry.Name == ".." {
			continue
		}
		if err := c.walk(path.Join(pathStr, entry.Name), entry, walkFn); err != nil {
			if err == SkipDir {
				return nil // skip the remaining siblings
			}
			return err
		}
	}

	return nil
}

// ChangeDir changes the current working directory.
func (c *Client) ChangeDir(dir string) error {
	_, err := c.expect2xx("CWD", c.protectWhitespace(dir))
	return err
}

// ChangeDirUp moves to the parent of the current working directory.
func (c *Client) ChangeDirUp() error {
	_, err := c.expect2xx("CDUP")
	return err
}

// CurrentDir returns the current working directory by parsing the quoted
// path out of a PWD reply (e.g. `257 "/home/user" is the current directory`).
func (c *Client) CurrentDir() (string, error) {
	reply, err := c.expect2xx("PWD")
	if err != nil {
		return "", err
	}

	msg := reply.Message
	start := strings.Index(msg, "\"")
	if start == -1 {
		return "", &ParseError{Context: "PWD reply", Input: msg, Err: fmt.Errorf("no quoted path")}
	}
	end := strings.Index(msg[start+1:], "\"")
	if end == -1 {
		return "", &ParseError{Context: "PWD reply", Input: msg, Err: fmt.Errorf("unterminated quoted path")}
	}

	// A literal quote inside the path is doubled per RFC 959 Appendix II;
	// collapse "" back to " once the outer quotes are stripped.
	return strings.ReplaceAll(msg[start+1:start+1+end], `""`, `"`), nil
}

// MakeDir creates a single directory.
func (c *Client) MakeDir(dir string) error {
	_, err := c.expect2xx("MKD", c.protectWhitespace(dir))
	return err
}

// RemoveDir removes a single, empty directory.
func (c *Client) RemoveDir(dir string) error {
	_, err := c.expect2xx("RMD", c.protectWhitespace(dir))
	return err
}

// Delete removes a single file.
func (c *Client) Delete(path string) error {
	_, err := c.expect2xx("DELE", c.protectWhitespace(path))
	return err
}

// Rename renames or moves a file or directory via RNFR/RNTO.
func (c *Client) Rename(from, to string) error {
	if _, err := c.expectCode(350, "RNFR", c.protectWhitespace(from)); err != nil {
		return err
	}
	_, err := c.expect2xx("RNTO", c.protectWhitespace(to))
	return err
}

// Size returns the size in bytes of path, via the SIZE command.
func (c *Client) Size(path string) (int64, error) {
	reply, err := c.expect2xx("SIZE", c.protectWhitespace(path))
	if err != nil {
		return 0, err
	}
	var size int64
	if _, scanErr := fmt.Sscanf(reply.Message, "%d", &size); scanErr != nil {
		return 0, &ParseError{Context: "SIZE reply", Input: reply.Message, Err: scanErr}
	}
	return size, nil
}

// ModTime returns path's modification time in UTC, via MDTM.
func (c *Client) ModTime(path string) (time.Time, error) {
	reply, err := c.expect2xx("MDTM", c.protectWhitespace(path))
	if err != nil {
		return time.Time{}, err
	}
	timestamp := strings.TrimSpace(reply.Message)
	if len(timestamp) < 14 {
		return time.Time{}, &ParseError{Context: "MDTM reply", Input: reply.Message, Err: fmt.Errorf("too short")}
	}
	modTime, err := time.Parse("20060102150405", timestamp[:14])
	if err != nil {
		return time.Time{}, &ParseError{Context: "MDTM reply", Input: reply.Message, Err: err}
	}
	return modTime.UTC(), nil
}

// SetModTime sets path's modification time via MFMT (draft-somers-ftp-mfxx).
func (c *Client) SetModTime(path string, t time.Time) error {
	_, err := c.expect2xx("MFMT", t.UTC().Format("20060102150405"), c.protectWhitespace(path))
	return err
}

// Chmod changes path's permission bits via SITE CHMOD.
func (c *Client) Chmod(path string, mode os.FileMode) error {
	octal := fmt.Sprintf("%04o", mode&os.ModePerm)
	_, err := c.expect2xx("SITE", "CHMOD", octal, c.protectWhitespace(path))
	return err
}

// EnsureDir creates dir and any missing parent directories by walking into
// it one path component at a time: if dir is absolute, CWD to "/" first,
// then for every component try MKD (tolerating an "already exists" reply)
// and CWD into it. The working directory ends up at dir on success.
func (c *Client) EnsureDir(dir string) error {
	if dir == "" || dir == "." {
		return nil
	}

	if strings.HasPrefix(dir, "/") {
		if err := c.ChangeDir("/"); err != nil {
			return err
		}
	}

	for _, component := range strings.Split(strings.Trim(dir, "/"), "/") {
		if component == "" {
			continue
		}
		if err := c.fatalOnly(c.sendIgnoringError("MKD", c.protectWhitespace(component))); err != nil {
			return err
		}
		if err := c.ChangeDir(component); err != nil {
			return err
		}
	}
	return nil
}

// RemoveDirRecursive deletes dir and everything under it: it CWDs into dir,
// empties it via ClearWorkingDir, then (unless dir resolved to "/") climbs
// back out with CDUP and RMDs the subpath by name.
func (c *Client) RemoveDirRecursive(dir string) error {
	if err := c.ChangeDir(dir); err != nil {
		return err
	}
	if err := c.ClearWorkingDir(); err != nil {
		return err
	}

	pwd, err := c.CurrentDir()
	if err != nil {
		return err
	}
	if pwd == "/" {
		return nil
	}

	if err := c.ChangeDirUp(); err != nil {
		return err
	}
	return c.RemoveDir(path.Base(dir))
}

// ClearWorkingDir removes every entry under the current working directory
// without removing the directory itself: files are DELEd directly, and
// subdirectories are handed to RemoveDirRecursive by name (relative to the
// current directory, so it CWDs into them in turn).
func (c *Client) ClearWorkingDir() error {
	entries, err := c.List("")
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.Name == "." || entry.Name == ".." {
			continue
		}
		if entry.Type == "dir" {
			if err := c.RemoveDirRecursive(entry.Name); err != nil {
				return err
			}
			continue
		}
		if err := c.Delete(entry.Name); err != nil {
			return err
		}
	}
	return nil
}

// UploadDir mirrors the local directory tree at localDir (read through the
// client's afero.Fs, WithFilesystem's os.Fs by default) onto remoteDir.
// If remoteDir is non-empty, it remembers the current working directory,
// ensureDirs into remoteDir (which leaves the session CWD'd there), mirrors
// the tree using relative STOR/MKD/CWD, then restores the original PWD.
func (c *Client) UploadDir(localDir, remoteDir string) error {
	var restorePWD string
	if remoteDir != "" {
		pwd, err := c.CurrentDir()
		if err != nil {
			return err
		}
		if err := c.EnsureDir(remoteDir); err != nil {
			return err
		}
		restorePWD = pwd
	}

	if err := c.uploadTree(localDir); err != nil {
		return err
	}

	if restorePWD != "" {
		return c.ChangeDir(restorePWD)
	}
	return nil
}

// uploadTree mirrors the direct and nested contents of localDir into the
// current remote working directory, descending into subdirectories with
// CWD/CDUP so every STOR/MKD it issues names a relative, single-component
// path.
func (c *Client) uploadTree(localDir string) error {
	infos, err := afero.ReadDir(c.fs, localDir)
	if err != nil {
		return err
	}

	for _, info := range infos {
		name := info.Name()
		localPath := filepath.Join(localDir, name)

		if info.IsDir() {
			if err := c.fatalOnly(c.sendIgnoringError("MKD", c.protectWhitespace(name))); err != nil {
				return err
			}
			if err := c.ChangeDir(name); err != nil {
				return err
			}
			if err := c.uploadTree(localPath); err != nil {
				return err
			}
			if err := c.ChangeDirUp(); err != nil {
				return err
			}
			continue
		}

		f, err := c.fs.Open(localPath)
		if err != nil {
			return err
		}
		err = c.Store(name, f)
		f.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// DownloadDir mirrors the remote directory tree at remoteDir onto localDir
// on the client's afero.Fs. If remoteDir is non-empty the session CWDs into
// it first; the mirror then recurses by CWDing into each remote
// subdirectory, downloading its contents, and CDUPing back out.
func (c *Client) DownloadDir(remoteDir, localDir string) error {
	if remoteDir != "" {
		if err := c.ChangeDir(remoteDir); err != nil {
			return err
		}
	}
	if err := c.fs.MkdirAll(localDir, 0o755); err != nil {
		return err
	}
	return c.downloadTree(localDir)
}

// downloadTree lists the current remote working directory and mirrors its
// entries into localDir, descending into remote subdirectories with
// CWD/CDUP rather than building absolute paths.
func (c *Client) downloadTree(localDir string) error {
	entries, err := c.List("")
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if entry.Name == "." || entry.Name == ".." {
			continue
		}
		localPath := filepath.Join(localDir, entry.Name)

		switch entry.Type {
		case "dir":
			if err := c.fs.MkdirAll(localPath, 0o755); err != nil {
				return err
			}
			if err := c.ChangeDir(entry.Name); err != nil {
				return err
			}
			if err := c.downloadTree(localPath); err != nil {
				return err
			}
			if err := c.ChangeDirUp(); err != nil {
				return err
			}
		case "file":
			f, err := c.fs.Create(localPath)
			if err != nil {
				return err
			}
			err = c.Retrieve(entry.Name, f)
			f.Close()
			if err != nil {
				return err
			}
		}
	}
	return nil
}
