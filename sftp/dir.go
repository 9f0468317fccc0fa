package sftp

import (
	"fmt"

	"github.com/holger24/afd-sftp/ulog"
)

// mkdirRaw sends bare MKDIR with optional PERMISSIONS, no chmod
// follow-up and no race handling; used both by the public Mkdir and by
// the recursive directory creator in path.go.
func (s *Session) mkdirRaw(path string, mode uint32) error {
	body := make([]byte, 0, len(path)+16)
	body = putString(body, s.resolvePath(path))
	if mode != 0 {
		body = encodeAttrsOut(body, s.version, &Attrs{Permissions: mode}, attrsWant{permissions: true})
	} else {
		body = putUint32(body, 0)
	}
	return s.simpleCall(sshFxpMkdir, body)
}

// Mkdir implements spec §4.6 mkdir(path, mode): MKDIR with optional
// PERMISSIONS; best-effort chmod follow-up; STATUS(FAILURE) is
// resolved by a STAT to detect the create-race (spec §8 "mkdir race").
func (s *Session) Mkdir(path string, mode uint32) error {
	if err := s.checkGuards(); err != nil {
		return err
	}
	err := s.mkdirRaw(path, mode)
	if err == nil {
		if mode != 0 {
			if cerr := s.Chmod(path, mode); cerr != nil {
				ulog.DebugfFor("sftp", "mkdir %s: best-effort chmod failed: %s", path, cerr)
			}
		}
		return nil
	}
	if isFailureStatus(err) {
		if _, statErr := s.statPath(path); statErr == nil {
			return nil
		}
	}
	return err
}

// Move implements spec §4.6 move(from, to, create_dir, dir_mode,
// out_created_path): posix-rename if advertised, else RENAME (with
// OVERWRITE|ATOMIC on v≥6); STATUS(FAILURE) on v<5 deletes the
// destination and retries once; STATUS(NO_SUCH_FILE) with create_dir
// creates the destination's parent and retries once.
func (s *Session) Move(from, to string, createDir bool, dirMode uint32) (createdPath string, err error) {
	if err = s.checkGuards(); err != nil {
		return "", err
	}
	doRename := func() error {
		if s.extensions.posixRename {
			body := make([]byte, 0, len(from)+len(to)+40)
			body = putString(body, "posix-rename@openssh.com")
			body = putString(body, s.resolvePath(from))
			body = putString(body, s.resolvePath(to))
			return s.simpleCall(sshFxpExtended, body)
		}
		body := make([]byte, 0, len(from)+len(to)+16)
		body = putString(body, s.resolvePath(from))
		body = putString(body, s.resolvePath(to))
		if s.version >= 6 {
			body = putUint32(body, sshFxfRenameOverwrite|sshFxfRenameAtomic)
		}
		return s.simpleCall(sshFxpRename, body)
	}

	err = doRename()
	if err != nil && isFailureStatus(err) && s.version < 5 {
		if derr := s.Dele(to); derr != nil && !isNoSuchFile(derr) {
			return "", err
		}
		err = doRename()
	}
	if err != nil && isNoSuchFile(err) && createDir {
		parent, ok := splitParent(to)
		if !ok {
			return "", err
		}
		created, cerr := s.createParents(parent, dirMode)
		if cerr != nil {
			return "", cerr
		}
		if rerr := doRename(); rerr != nil {
			return created, rerr
		}
		return created, nil
	}
	return "", err
}

// v5/v6 RENAME flags
const (
	sshFxfRenameOverwrite = 0x00000001
	sshFxfRenameAtomic    = 0x00000002
)

// OpenDir implements spec §4.6 open_dir(path): OPENDIR, store opaque
// handle, reset name-list.
func (s *Session) OpenDir(path string) error {
	if err := s.checkGuards(); err != nil {
		return err
	}
	body := make([]byte, 0, len(path)+4)
	body = putString(body, s.resolvePath(path))
	handle, err := s.handleCall(sshFxpOpendir, body)
	if err != nil {
		return err
	}
	s.dirHandle = handle
	s.nameBuf = nil
	s.nameBufPos = 0
	s.dirEOF = false
	return nil
}

// CloseDir implements spec §4.6 close_dir(): CLOSE, releasing the
// handle and any pending name-list regardless of outcome; short-
// circuits on a latched broken pipe rather than attempting the wire
// call (spec §4.6: "Short-circuits on a latched broken pipe").
func (s *Session) CloseDir() (bool, error) {
	if s.pipeBroken.IsSet() {
		s.dirHandle = nil
		s.nameBuf = nil
		return false, ErrPipeBroken
	}
	handle := s.dirHandle
	s.dirHandle = nil
	s.nameBuf = nil
	s.nameBufPos = 0
	if handle == nil {
		return true, nil
	}
	body := make([]byte, 0, len(handle)+4)
	body = putBytes(body, handle)
	err := s.simpleCall(sshFxpClose, body)
	return err == nil, err
}

// Readdir implements spec §4.6 readdir(out_name, out_attrs): refills
// the buffered name list via READDIR when exhausted, returns one entry
// per call, and returns ErrEOF once the server answers STATUS(EOF) and
// the buffer is drained.
func (s *Session) Readdir() (name string, attrs Attrs, err error) {
	if err = s.checkGuards(); err != nil {
		return "", Attrs{}, err
	}
	if s.dirHandle == nil {
		return "", Attrs{}, fmt.Errorf("sftp: Readdir: %w: no open directory handle", ErrIncorrect)
	}
	if s.nameBufPos >= len(s.nameBuf) {
		if s.dirEOF {
			return "", Attrs{}, ErrEOF
		}
		body := make([]byte, 0, len(s.dirHandle)+4)
		body = putBytes(body, s.dirHandle)
		id, rerr := s.request(sshFxpReaddir, body)
		if rerr != nil {
			return "", Attrs{}, rerr
		}
		typ, payload, rerr := s.getReply(id)
		if rerr != nil {
			return "", Attrs{}, rerr
		}
		if typ == sshFxpStatus {
			if serr := decodeStatus(payload); serr != nil {
				if serr == ErrEOF {
					s.dirEOF = true
					return "", Attrs{}, ErrEOF
				}
				return "", Attrs{}, serr
			}
		}
		if typ != sshFxpName {
			return "", Attrs{}, framingErrorf("expected NAME or STATUS for READDIR, got type %d", typ)
		}
		entries, derr := decodeNameList(payload, s.version, s.maxFrameLength())
		if derr != nil {
			return "", Attrs{}, derr
		}
		s.nameBuf = entries
		s.nameBufPos = 0
		s.readdirPacket++
	}
	e := s.nameBuf[s.nameBufPos]
	s.nameBufPos++
	if s.nameBufPos >= len(s.nameBuf) {
		s.nameBuf = nil
		s.nameBufPos = 0
	}
	return e.Name, e.Attrs, nil
}
