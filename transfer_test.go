package ftp

import (
	"bytes"
	"net/textproto"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestRetrieveFrom_ResumesAtOffset drives spec.md scenario 4 end to end:
// RetrieveFrom with a nonzero offset must send "REST <offset>" (expecting
// 350) before RETR, and only the bytes from that offset onward should end
// up in the destination.
func TestRetrieveFrom_ResumesAtOffset(t *testing.T) {
	t.Parallel()
	ms := newMockServer(t)
	l := wirePassiveData(t, ms)

	const full = "0123456789"
	var gotRestArg string
	var gotRetrArg string

	ms.handlers["REST"] = func(c *textproto.Conn, args string) {
		gotRestArg = args
		_ = c.PrintfLine("350 Restarting at %s.", args)
	}
	ms.handlers["RETR"] = func(c *textproto.Conn, args string) {
		gotRetrArg = args
		_ = c.PrintfLine("150 Opening data connection.")
		dconn, err := l.Accept()
		require.NoError(t, err)
		_, _ = dconn.Write([]byte(full[4:]))
		dconn.Close()
		_ = c.PrintfLine("226 Transfer complete.")
	}

	ms.start()
	defer ms.stop()

	c := loggedInClient(t, ms)
	defer func() { _ = c.Quit() }()

	var buf bytes.Buffer
	require.NoError(t, c.RetrieveFrom("big.bin", &buf, 4))

	require.Equal(t, "4", gotRestArg, "REST must carry the requested offset")
	require.Equal(t, "big.bin", gotRetrArg, "RETR must still name the target path after REST")
	require.Equal(t, full[4:], buf.String(), "only the bytes from offset onward should be written")
}

// TestRetrieveFrom_ZeroOffsetSkipsREST checks that RetrieveFrom(path, w, 0)
// behaves like a plain Retrieve: no REST is sent at all.
func TestRetrieveFrom_ZeroOffsetSkipsREST(t *testing.T) {
	t.Parallel()
	ms := newMockServer(t)
	l := wirePassiveData(t, ms)

	ms.handlers["REST"] = func(c *textproto.Conn, args string) {
		t.Errorf("REST sent with offset 0, want it skipped entirely")
		_ = c.PrintfLine("350 Restarting at %s.", args)
	}
	ms.handlers["RETR"] = func(c *textproto.Conn, args string) {
		_ = c.PrintfLine("150 Opening data connection.")
		dconn, err := l.Accept()
		require.NoError(t, err)
		_, _ = dconn.Write([]byte("hello"))
		dconn.Close()
		_ = c.PrintfLine("226 Transfer complete.")
	}

	ms.start()
	defer ms.stop()

	c := loggedInClient(t, ms)
	defer func() { _ = c.Quit() }()

	var buf bytes.Buffer
	require.NoError(t, c.RetrieveFrom("small.bin", &buf, 0))
	require.Equal(t, "hello", buf.String())
}

// TestStoreRetrieve_RoundTrip is the spec.md round-trip law: uploading a
// payload with Store and then downloading it back with Retrieve must
// reproduce it byte-for-byte. The mock server plays the part of the
// remote file store, capturing what STOR writes and replaying it for RETR.
func TestStoreRetrieve_RoundTrip(t *testing.T) {
	t.Parallel()
	ms := newMockServer(t)
	l := wirePassiveData(t, ms)

	payload := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog "), 200)
	var stored bytes.Buffer

	ms.handlers["STOR"] = func(c *textproto.Conn, args string) {
		if args != "foo" {
			t.Errorf("STOR carried %q, want foo", args)
		}
		_ = c.PrintfLine("150 Opening data connection.")
		dconn, err := l.Accept()
		require.NoError(t, err)
		_, err = stored.ReadFrom(dconn)
		require.NoError(t, err)
		dconn.Close()
		_ = c.PrintfLine("226 Transfer complete.")
	}
	ms.handlers["RETR"] = func(c *textproto.Conn, args string) {
		if args != "foo" {
			t.Errorf("RETR carried %q, want foo", args)
		}
		_ = c.PrintfLine("150 Opening data connection.")
		dconn, err := l.Accept()
		require.NoError(t, err)
		_, err = dconn.Write(stored.Bytes())
		require.NoError(t, err)
		dconn.Close()
		_ = c.PrintfLine("226 Transfer complete.")
	}

	ms.start()
	defer ms.stop()

	c := loggedInClient(t, ms)
	defer func() { _ = c.Quit() }()

	require.NoError(t, c.Store("foo", bytes.NewReader(payload)))
	require.Equal(t, payload, stored.Bytes(), "server must have received the upload byte-for-byte")

	var downloaded bytes.Buffer
	require.NoError(t, c.Retrieve("foo", &downloaded))
	require.Equal(t, payload, downloaded.Bytes(), "download must reproduce the uploaded payload byte-for-byte")
}

// TestAppend_SendsAPPECommand checks that Append uses APPE rather than
// STOR and that the appended bytes reach the server.
func TestAppend_SendsAPPECommand(t *testing.T) {
	t.Parallel()
	ms := newMockServer(t)
	l := wirePassiveData(t, ms)

	var appended bytes.Buffer
	var sawAPPE bool

	ms.handlers["APPE"] = func(c *textproto.Conn, args string) {
		sawAPPE = true
		if args != "log.txt" {
			t.Errorf("APPE carried %q, want log.txt", args)
		}
		_ = c.PrintfLine("150 Opening data connection.")
		dconn, err := l.Accept()
		require.NoError(t, err)
		_, err = appended.ReadFrom(dconn)
		require.NoError(t, err)
		dconn.Close()
		_ = c.PrintfLine("226 Transfer complete.")
	}
	ms.handlers["STOR"] = func(c *textproto.Conn, args string) {
		t.Error("STOR sent, want APPE for Append()")
		_ = c.PrintfLine("502 Command not implemented.")
	}

	ms.start()
	defer ms.stop()

	c := loggedInClient(t, ms)
	defer func() { _ = c.Quit() }()

	require.NoError(t, c.Append("log.txt", bytes.NewReader([]byte("new line\n"))))
	require.True(t, sawAPPE, "Append must send APPE")
	require.Equal(t, "new line\n", appended.String())
}
