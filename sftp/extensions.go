package sftp

// StatVFS is the decoded reply to the statvfs@openssh.com /
// fstatvfs@openssh.com extensions: filesystem capacity and limits,
// mirroring struct statvfs from POSIX.
type StatVFS struct {
	BlockSize     uint64
	FragmentSize  uint64
	Blocks        uint64
	BlocksFree    uint64
	BlocksAvail   uint64
	Files         uint64
	FilesFree     uint64
	FilesAvail    uint64
	FilesystemID  uint64
	Flags         uint64
	MaxNameLength uint64
}

func decodeStatVFS(payload []byte, maxLen uint32) (*StatVFS, error) {
	v := &StatVFS{}
	fields := []*uint64{
		&v.BlockSize, &v.FragmentSize, &v.Blocks, &v.BlocksFree, &v.BlocksAvail,
		&v.Files, &v.FilesFree, &v.FilesAvail, &v.FilesystemID, &v.Flags, &v.MaxNameLength,
	}
	rest := payload
	for i, f := range fields {
		val, r2, err := getUint64(rest)
		if err != nil {
			return v, framingErrorf("statvfs field %d: %s", i, err)
		}
		*f = val
		rest = r2
	}
	return v, nil
}

// StatVFS implements the statvfs@openssh.com extension: requires the
// advertised extension (spec §4.10 "extension operations").
func (s *Session) StatVFS(path string) (*StatVFS, error) {
	if err := s.checkGuards(); err != nil {
		return nil, err
	}
	if !s.extensions.statVFS {
		return nil, ErrOpUnsupported
	}
	body := make([]byte, 0, len(path)+40)
	body = putString(body, "statvfs@openssh.com")
	body = putString(body, s.resolvePath(path))
	id, err := s.request(sshFxpExtended, body)
	if err != nil {
		return nil, err
	}
	typ, payload, err := s.getReply(id)
	if err != nil {
		return nil, err
	}
	if typ == sshFxpStatus {
		return nil, decodeStatus(payload)
	}
	if typ != sshFxpExtendedReply {
		return nil, framingErrorf("expected EXTENDED_REPLY for statvfs, got type %d", typ)
	}
	return decodeStatVFS(payload, s.maxFrameLength())
}

// FStatVFS implements the fstatvfs@openssh.com extension against the
// currently open file handle.
func (s *Session) FStatVFS() (*StatVFS, error) {
	if err := s.checkGuards(); err != nil {
		return nil, err
	}
	if !s.extensions.fstatVFS {
		return nil, ErrOpUnsupported
	}
	if s.fileHandle == nil {
		return nil, ErrIncorrect
	}
	body := make([]byte, 0, len(s.fileHandle)+40)
	body = putString(body, "fstatvfs@openssh.com")
	body = putBytes(body, s.fileHandle)
	id, err := s.request(sshFxpExtended, body)
	if err != nil {
		return nil, err
	}
	typ, payload, err := s.getReply(id)
	if err != nil {
		return nil, err
	}
	if typ == sshFxpStatus {
		return nil, decodeStatus(payload)
	}
	if typ != sshFxpExtendedReply {
		return nil, framingErrorf("expected EXTENDED_REPLY for fstatvfs, got type %d", typ)
	}
	return decodeStatVFS(payload, s.maxFrameLength())
}

// Fsync implements the fsync@openssh.com extension against the
// currently open file handle.
func (s *Session) Fsync() error {
	if err := s.checkGuards(); err != nil {
		return err
	}
	if !s.extensions.fsync {
		return ErrOpUnsupported
	}
	if s.fileHandle == nil {
		return ErrIncorrect
	}
	body := make([]byte, 0, len(s.fileHandle)+32)
	body = putString(body, "fsync@openssh.com")
	body = putBytes(body, s.fileHandle)
	return s.simpleCall(sshFxpExtended, body)
}

// LSetStat implements the lsetstat@openssh.com extension: SETSTAT that
// acts on the symlink itself rather than its target.
func (s *Session) LSetStat(path string, perm uint32) error {
	if err := s.checkGuards(); err != nil {
		return err
	}
	if !s.extensions.lsetstat {
		return ErrOpUnsupported
	}
	body := make([]byte, 0, len(path)+48)
	body = putString(body, "lsetstat@openssh.com")
	body = putString(body, s.resolvePath(path))
	body = encodeAttrsOut(body, s.version, &Attrs{Permissions: perm}, attrsWant{permissions: true})
	return s.simpleCall(sshFxpExtended, body)
}

// CopyData implements the copy-data extension: server-side copy of a
// byte range from one open handle to another, avoiding a round trip
// through the client.
func (s *Session) CopyData(srcHandle []byte, srcOffset, length uint64, dstHandle []byte, dstOffset uint64) error {
	if err := s.checkGuards(); err != nil {
		return err
	}
	if !s.extensions.copyData {
		return ErrOpUnsupported
	}
	body := make([]byte, 0, len(srcHandle)+len(dstHandle)+64)
	body = putString(body, "copy-data")
	body = putBytes(body, srcHandle)
	body = putUint64(body, srcOffset)
	body = putUint64(body, length)
	body = putBytes(body, dstHandle)
	body = putUint64(body, dstOffset)
	return s.simpleCall(sshFxpExtended, body)
}

// ExpandPath implements the expand-path@openssh.com extension: server-
// side tilde/home-relative expansion, distinct from REALPATH's
// canonicalisation (which requires the path to exist on some servers).
func (s *Session) ExpandPath(path string) (string, error) {
	if err := s.checkGuards(); err != nil {
		return "", err
	}
	if !s.extensions.expandPath {
		return "", ErrOpUnsupported
	}
	body := make([]byte, 0, len(path)+32)
	body = putString(body, "expand-path@openssh.com")
	body = putString(body, path)
	entries, err := s.nameCall(sshFxpExtended, body)
	if err != nil {
		return "", err
	}
	if len(entries) != 1 {
		return "", framingErrorf("expand-path returned %d entries, want 1", len(entries))
	}
	return entries[0].Name, nil
}
