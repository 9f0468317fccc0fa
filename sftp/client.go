package sftp

import (
	"fmt"
	"strings"

	"github.com/holger24/afd-sftp/ulog"
)

// checkGuards short-circuits every outbound call once pipe_broken or
// timeout_flag has latched (spec §3 invariants, §7 "Transport-fatal...
// subsequent calls short-circuit").
func (s *Session) checkGuards() error {
	if s.pipeBroken.IsSet() {
		return ErrPipeBroken
	}
	if s.timeoutFlag != nil && s.timeoutFlag.IsSet() {
		return ErrPipeBroken
	}
	return nil
}

// request encodes and sends one non-pipelined frame, returning the
// request id so the caller can await its reply.
func (s *Session) request(typ uint8, body []byte) (id uint32, err error) {
	if err = s.checkGuards(); err != nil {
		return 0, err
	}
	if s.simulation {
		return s.allocID(), nil
	}
	id = s.allocID()
	buf := make([]byte, 0, 9+len(body))
	buf = putUint32(buf, 0)
	buf = append(buf, typ)
	buf = putUint32(buf, id)
	buf = append(buf, body...)
	patchLength(buf)

	res, werr := s.transport.writeAll(buf)
	if werr != nil {
		s.onTransportResult(res)
		return 0, werr
	}
	return id, nil
}

// simpleCall sends typ/body and awaits a STATUS reply, returning nil
// only on SSH_FX_OK (spec §4.6 "STATUS with code SSH_FX_OK is the
// success marker for void operations").
func (s *Session) simpleCall(typ uint8, body []byte) error {
	id, err := s.request(typ, body)
	if err != nil {
		return err
	}
	if s.simulation {
		return nil
	}
	replyTyp, payload, err := s.getReply(id)
	if err != nil {
		return err
	}
	if replyTyp != sshFxpStatus {
		return framingErrorf("expected STATUS, got type %d", replyTyp)
	}
	return decodeStatus(payload)
}

// handleCall sends typ/body and awaits either HANDLE (success) or
// STATUS (failure).
func (s *Session) handleCall(typ uint8, body []byte) (handle []byte, err error) {
	id, err := s.request(typ, body)
	if err != nil {
		return nil, err
	}
	if s.simulation {
		return []byte("sim-handle"), nil
	}
	replyTyp, payload, err := s.getReply(id)
	if err != nil {
		return nil, err
	}
	switch replyTyp {
	case sshFxpHandle:
		h, _, err := getBytes(payload, s.maxFrameLength())
		return h, err
	case sshFxpStatus:
		return nil, decodeStatus(payload)
	default:
		return nil, framingErrorf("expected HANDLE or STATUS, got type %d", replyTyp)
	}
}

// nameCall sends typ/body and awaits NAME (returning the entries) or
// STATUS on failure. Used by realpath/readdir.
func (s *Session) nameCall(typ uint8, body []byte) (names []nameEntry, err error) {
	id, err := s.request(typ, body)
	if err != nil {
		return nil, err
	}
	replyTyp, payload, err := s.getReply(id)
	if err != nil {
		return nil, err
	}
	switch replyTyp {
	case sshFxpName:
		return decodeNameList(payload, s.version, s.maxFrameLength())
	case sshFxpStatus:
		return nil, decodeStatus(payload)
	default:
		return nil, framingErrorf("expected NAME or STATUS, got type %d", replyTyp)
	}
}

type nameEntry struct {
	Name     string
	LongName string
	Attrs    Attrs
}

// decodeNameList decodes an SSH_FXP_NAME payload: u32 count, then per
// entry filename, longname (v<4 only), ATTRS (spec §4.6 readdir;
// Open Question on the long-name decrement resolved in DESIGN.md --
// this client reads long-name with the ordinary length-prefixed-string
// reader, no double-decrement).
func decodeNameList(payload []byte, version uint32, maxLen uint32) ([]nameEntry, error) {
	count, rest, err := getUint32(payload)
	if err != nil {
		return nil, framingErrorf("NAME payload: %s", err)
	}
	entries := make([]nameEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		var e nameEntry
		e.Name, rest, err = getString(rest, maxLen)
		if err != nil {
			return entries, framingErrorf("NAME entry %d filename: %s", i, err)
		}
		if version < 4 {
			e.LongName, rest, err = getString(rest, maxLen)
			if err != nil {
				return entries, framingErrorf("NAME entry %d longname: %s", i, err)
			}
		}
		attrs, r2, ok, aerr := decodeAttrs(rest, version, maxLen)
		if aerr != nil {
			return entries, framingErrorf("NAME entry %d attrs: %s", i, aerr)
		}
		if attrs != nil {
			e.Attrs = *attrs
		}
		rest = r2
		if !ok {
			ulog.DebugfFor("sftp", "NAME entry %d attrs decode stopped short", i)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Cd implements spec §4.6 cd(path, create_if_missing, mode,
// out_created_path).
func (s *Session) Cd(path string, createIfMissing bool, mode uint32) (createdPath string, err error) {
	if err = s.checkGuards(); err != nil {
		return "", err
	}
	if path == "" {
		s.cwd = nil
		return "", nil
	}
	resolved, err := s.realpath(path)
	if err == nil {
		if s.version < 4 {
			// work around servers that return the resolved name even
			// for non-existent directories (spec §4.6 cd).
			if _, statErr := s.statPath(resolved); statErr != nil {
				if isNoSuchFile(statErr) && createIfMissing {
					created, cerr := s.createParents(resolved, mode)
					if cerr != nil {
						return "", cerr
					}
					resolved, err = s.realpath(path)
					if err != nil {
						return created, err
					}
					s.cwd = &resolved
					return created, nil
				}
				return "", statErr
			}
		}
		s.cwd = &resolved
		return "", nil
	}
	if isNoSuchFile(err) && createIfMissing {
		created, cerr := s.createParents(path, mode)
		if cerr != nil {
			return "", cerr
		}
		resolved, rerr := s.realpath(path)
		if rerr != nil {
			return created, rerr
		}
		s.cwd = &resolved
		return created, nil
	}
	return "", err
}

// Pwd implements spec §4.6 pwd(): REALPATH ".", store result.
func (s *Session) Pwd() (string, error) {
	if err := s.checkGuards(); err != nil {
		return "", err
	}
	resolved, err := s.realpath(".")
	if err != nil {
		return "", err
	}
	s.cwd = &resolved
	return resolved, nil
}

func (s *Session) realpath(path string) (string, error) {
	if s.simulation {
		return "/" + strings.Trim(s.resolvePath(path), "/"), nil
	}
	body := make([]byte, 0, len(path)+4)
	body = putString(body, s.resolvePath(path))
	entries, err := s.nameCall(sshFxpRealpath, body)
	if err != nil {
		return "", err
	}
	if len(entries) != 1 {
		return "", framingErrorf("REALPATH returned %d entries, want 1", len(entries))
	}
	return entries[0].Name, nil
}

// statPath implements the name-based half of spec §4.6 stat(): STAT,
// with a v≥6 attribute-bits mask requesting SIZE|MODIFYTIME.
func (s *Session) statPath(path string) (*Attrs, error) {
	if err := s.checkGuards(); err != nil {
		return nil, err
	}
	if s.simulation {
		return &Attrs{}, nil
	}
	body := make([]byte, 0, len(path)+8)
	body = putString(body, s.resolvePath(path))
	if s.version >= 6 {
		body = putUint32(body, attrSize|attrModifyTime)
	}
	id, err := s.request(sshFxpStat, body)
	if err != nil {
		return nil, err
	}
	typ, payload, err := s.getReply(id)
	if err != nil {
		return nil, err
	}
	return decodeAttrsReply(typ, payload, s.version, s.maxFrameLength())
}

// Stat implements the name-based half of spec §4.6 stat(name,
// out_attrs): the public entry point over statPath.
func (s *Session) Stat(path string) (*Attrs, error) {
	return s.statPath(path)
}

// FStat implements the handle-based half of spec §4.6 stat(): FSTAT
// against the currently open file handle.
func (s *Session) FStat() (*Attrs, error) {
	if err := s.checkGuards(); err != nil {
		return nil, err
	}
	if s.fileHandle == nil {
		// Programming error per spec §7: "calling stat with neither a
		// name nor an open handle".
		ulog.Warnf("sftp: FStat called with no open file handle")
		return nil, fmt.Errorf("sftp: FStat: %w: no open file handle", ErrIncorrect)
	}
	if s.simulation {
		return &Attrs{}, nil
	}
	body := make([]byte, 0, len(s.fileHandle)+8)
	body = putBytes(body, s.fileHandle)
	if s.version >= 6 {
		body = putUint32(body, attrSize|attrModifyTime)
	}
	id, err := s.request(sshFxpFstat, body)
	if err != nil {
		return nil, err
	}
	typ, payload, err := s.getReply(id)
	if err != nil {
		return nil, err
	}
	return decodeAttrsReply(typ, payload, s.version, s.maxFrameLength())
}

func decodeAttrsReply(typ uint8, payload []byte, version uint32, maxLen uint32) (*Attrs, error) {
	switch typ {
	case sshFxpAttrs:
		attrs, _, _, err := decodeAttrs(payload, version, maxLen)
		if err != nil {
			return nil, framingErrorf("ATTRS payload: %s", err)
		}
		return attrs, nil
	case sshFxpStatus:
		return nil, decodeStatus(payload)
	default:
		return nil, framingErrorf("expected ATTRS or STATUS, got type %d", typ)
	}
}

// SetFileTime implements spec §4.6 set_file_time(name | handle, mtime,
// atime): SETSTAT/FSETSTAT with ACMODTIME (v<4) or MODIFYTIME|
// ACCESSTIME (v≥4).
func (s *Session) SetFileTime(name string, mtime, atime int64) error {
	if err := s.checkGuards(); err != nil {
		return err
	}
	a := &Attrs{Atime: atime, Mtime: mtime}
	body := make([]byte, 0, 64)
	if name == "" {
		if s.fileHandle == nil {
			return fmt.Errorf("sftp: SetFileTime: %w: no open file handle", ErrIncorrect)
		}
		body = putBytes(body, s.fileHandle)
		body = encodeAttrsOut(body, s.version, a, attrsWant{times: true})
		return s.simpleCall(sshFxpFsetstat, body)
	}
	body = putString(body, s.resolvePath(name))
	body = encodeAttrsOut(body, s.version, a, attrsWant{times: true})
	return s.simpleCall(sshFxpSetstat, body)
}

// Chmod implements spec §4.6 chmod.
func (s *Session) Chmod(path string, mode uint32) error {
	if err := s.checkGuards(); err != nil {
		return err
	}
	body := make([]byte, 0, 32)
	body = putString(body, s.resolvePath(path))
	body = encodeAttrsOut(body, s.version, &Attrs{Permissions: mode}, attrsWant{permissions: true})
	return s.simpleCall(sshFxpSetstat, body)
}

// Noop implements spec §4.6 noop(): a stat(".") keepalive, or a limits
// probe when the extension is available.
func (s *Session) Noop() error {
	if err := s.checkGuards(); err != nil {
		return err
	}
	if s.extensions.limits {
		return s.fetchLimits(nil)
	}
	_, err := s.statPath(".")
	return err
}

// Dele implements spec §4.6 dele (REMOVE).
func (s *Session) Dele(path string) error {
	if err := s.checkGuards(); err != nil {
		return err
	}
	body := make([]byte, 0, len(path)+4)
	body = putString(body, s.resolvePath(path))
	return s.simpleCall(sshFxpRemove, body)
}

// HardLink implements spec §4.6 hardlink; requires the advertised
// extension and applies the create-parent-on-NO_SUCH_FILE retry shared
// with move.
func (s *Session) HardLink(oldPath, newPath string) error {
	if err := s.checkGuards(); err != nil {
		return err
	}
	if !s.extensions.hardlink {
		return ErrOpUnsupported
	}
	body := make([]byte, 0, len(oldPath)+len(newPath)+40)
	body = putString(body, "hardlink@openssh.com")
	body = putString(body, s.resolvePath(oldPath))
	body = putString(body, s.resolvePath(newPath))
	err := s.simpleCall(sshFxpExtended, body)
	if err != nil && isNoSuchFile(err) {
		return s.retryWithParent(newPath, 0, func() error {
			body2 := make([]byte, 0, len(oldPath)+len(newPath)+40)
			body2 = putString(body2, "hardlink@openssh.com")
			body2 = putString(body2, s.resolvePath(oldPath))
			body2 = putString(body2, s.resolvePath(newPath))
			return s.simpleCall(sshFxpExtended, body2)
		})
	}
	return err
}

// Symlink implements spec §4.6 symlink; requires protocol ≥3 (always
// true here since minVersion is 3) and shares the create-parent retry.
func (s *Session) Symlink(target, linkPath string) error {
	if err := s.checkGuards(); err != nil {
		return err
	}
	do := func() error {
		body := make([]byte, 0, len(target)+len(linkPath)+16)
		body = putString(body, target)
		body = putString(body, s.resolvePath(linkPath))
		return s.simpleCall(sshFxpSymlink, body)
	}
	err := do()
	if err != nil && isNoSuchFile(err) {
		return s.retryWithParent(linkPath, 0, do)
	}
	return err
}

// retryWithParent implements the shared "create parent on
// NO_SUCH_FILE, retry once" pattern used by move/hardlink/symlink
// (spec §4.6).
func (s *Session) retryWithParent(destPath string, mode uint32, again func() error) error {
	parent, ok := splitParent(destPath)
	if !ok {
		return ErrNoSuchFile
	}
	if _, err := s.createParents(parent, mode); err != nil {
		return err
	}
	return again()
}
