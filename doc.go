// Package ftp implements an FTP client with support for both plain and
// explicit-TLS (FTPS) connections.
//
// # Overview
//
// This package provides a developer-friendly FTP client that supports:
//   - Plain FTP connections
//   - Explicit TLS (FTPS via AUTH TLS)
//   - Passive-mode data transfers, preferring EPSV and falling back to PASV
//   - Progress tracking via a pluggable ProgressSink
//   - Optional bandwidth throttling
//   - Robust error handling with detailed protocol context
//
// Implicit FTPS (port 990), active-mode (PORT) transfers, and upload
// resume via REST are intentionally not supported: explicit TLS and
// passive mode cover the servers this client targets, and most FTP
// servers handle REST on STOR inconsistently enough that resuming an
// interrupted upload isn't worth the surface area.
//
// # Basic Usage
//
// Connect to a plain FTP server:
//
//	client, err := ftp.Dial("ftp.example.com:21")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Quit()
//
//	if err := client.Login("username", "password"); err != nil {
//	    log.Fatal(err)
//	}
//
// # TLS Support
//
// Explicit TLS: the client connects on the standard FTP port (21) and
// upgrades to TLS using the AUTH TLS command:
//
//	client, err := ftp.Dial("ftp.example.com:21",
//	    ftp.WithExplicitTLS(&tls.Config{
//	        ServerName: "ftp.example.com",
//	    }),
//	)
//
// Once the control channel is upgraded, every subsequent data connection
// (LIST, STOR, RETR, ...) is upgraded with the same *tls.Config.
//
// # File Transfers
//
// Upload a file:
//
//	file, err := os.Open("local.txt")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer file.Close()
//
//	if err := client.Store("remote.txt", file); err != nil {
//	    log.Fatal(err)
//	}
//
// Download a file:
//
//	file, err := os.Create("local.txt")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer file.Close()
//
//	if err := client.Retrieve("remote.txt", file); err != nil {
//	    log.Fatal(err)
//	}
//
// # Progress Tracking
//
// Supply a ProgressSink via WithProgressSink to observe transfer progress;
// the default is a no-op sink.
//
// # Error Handling
//
// Errors returned by this package include detailed protocol context. Use
// type assertion (or errors.As) to access it:
//
//	if err := client.Store("file.txt", reader); err != nil {
//	    var pe *ftp.ProtocolError
//	    if errors.As(err, &pe) {
//	        fmt.Printf("Command: %s\n", pe.Command)
//	        fmt.Printf("Response: %s\n", pe.Response)
//	        fmt.Printf("Code: %d\n", pe.Code)
//	    }
//	}
package ftp
