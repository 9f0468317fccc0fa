// Command afdsftp is a minimal harness over the sftp package: enough
// to drive a real session end to end from the command line, so the
// whole stack (negotiation, pipelined I/O, cwd handling) has a
// non-test caller.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/holger24/afd-sftp/sftp"
	"github.com/holger24/afd-sftp/ulog"
)

func main() {
	if len(os.Args) < 3 {
		usage()
		os.Exit(2)
	}
	cmd := os.Args[1]
	host := os.Args[2]
	rest := os.Args[3:]

	ctx := context.Background()
	sess, err := sftp.Connect(ctx, host, sftp.Options{DebugLevel: debugLevel()})
	if err != nil {
		ulog.Fatalf("afdsftp: connect %s: %s", host, err)
	}
	defer sess.Quit(ctx)

	if err := run(ctx, sess, cmd, rest); err != nil {
		var se *sftp.StatusError
		if errors.As(err, &se) {
			fmt.Fprintf(os.Stderr, "afdsftp: %s: status %d\n", cmd, se.Code)
			os.Exit(int(se.Code))
		}
		fmt.Fprintf(os.Stderr, "afdsftp: %s: %s\n", cmd, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, sess *sftp.Session, cmd string, args []string) error {
	switch cmd {
	case "ls":
		return cmdLs(sess, arg(args, 0, "."))
	case "get":
		if len(args) < 2 {
			return fmt.Errorf("usage: afdsftp get HOST remote local")
		}
		return cmdGet(sess, args[0], args[1])
	case "put":
		if len(args) < 2 {
			return fmt.Errorf("usage: afdsftp put HOST local remote")
		}
		return cmdPut(sess, args[0], args[1])
	case "mkdir":
		return cmdMkdir(sess, arg(args, 0, ""))
	default:
		usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func cmdLs(sess *sftp.Session, path string) error {
	if err := sess.OpenDir(path); err != nil {
		return err
	}
	defer sess.CloseDir()
	for {
		name, attrs, err := sess.Readdir()
		if err == sftp.ErrEOF {
			return nil
		}
		if err != nil {
			return err
		}
		kind := "-"
		if attrs.IsDir() {
			kind = "d"
		}
		fmt.Printf("%s %10d %s\n", kind, attrs.Size, name)
	}
}

func cmdMkdir(sess *sftp.Session, path string) error {
	return sess.Mkdir(path, 0755)
}

func cmdGet(sess *sftp.Session, remote, local string) error {
	attrs, err := sess.Stat(remote)
	if err != nil {
		return err
	}
	if _, _, err := sess.OpenFile(sftp.ReadFile, remote, 0, 0, false, 0, 32768); err != nil {
		return err
	}
	defer sess.CloseFile()

	out, err := os.Create(local)
	if err != nil {
		return err
	}
	defer out.Close()

	permits := sess.MultiReadInit(32768, attrs.Size)
	_ = permits
	buf := make([]byte, 32768)
	for !sess.MultiReadEOF() {
		if err := sess.MultiReadDispatch(); err != nil {
			return err
		}
		n, _, err := sess.MultiReadCatch(buf)
		if err == sftp.ErrDoSingleReads {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return werr
			}
			continue
		}
		if err == sftp.ErrEOF {
			break
		}
		if err != nil {
			return err
		}
		if _, werr := out.Write(buf[:n]); werr != nil {
			return werr
		}
	}
	return nil
}

func cmdPut(sess *sftp.Session, local, remote string) error {
	in, err := os.Open(local)
	if err != nil {
		return err
	}
	defer in.Close()

	if _, _, err := sess.OpenFile(sftp.WriteFile, remote, 0, 0644, true, 0755, 32768); err != nil {
		return err
	}
	defer sess.CloseFile()

	buf := make([]byte, 32768)
	for {
		n, rerr := in.Read(buf)
		if n > 0 {
			if werr := sess.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return rerr
		}
	}
	return nil
}

func arg(args []string, i int, def string) string {
	if i < len(args) {
		return args[i]
	}
	return def
}

func debugLevel() int {
	if v := os.Getenv("AFDSFTP_DEBUG"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return 0
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: afdsftp ls|mkdir HOST [path]")
	fmt.Fprintln(os.Stderr, "       afdsftp get HOST remote local")
	fmt.Fprintln(os.Stderr, "       afdsftp put HOST local remote")
}
