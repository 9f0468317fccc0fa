package sftp

// Attribute flags. v3 is a strict subset of v4+; v4+ adds a file-type
// byte and many more optional fields (spec §4.4).
const (
	attrSize            = 0x00000001
	attrUidGid          = 0x00000002 // v3 only
	attrPermissions     = 0x00000004
	attrAcModTime       = 0x00000008 // v3 only (paired atime+mtime)
	attrAccessTime      = 0x00000008 // v4+ (separate from modifytime)
	attrCreateTime      = 0x00000010 // v4+
	attrModifyTime      = 0x00000020 // v4+
	attrAcl             = 0x00000040 // v4+
	attrOwnerGroup      = 0x00000080 // v4+
	attrSubsecondTimes  = 0x00000100 // v4+
	attrBits            = 0x00000200 // v5+
	attrAllocationSize  = 0x00000400 // v6
	attrTextHint        = 0x00000800 // v6
	attrMimeType        = 0x00001000 // v6
	attrLinkCount       = 0x00002000 // v6
	attrUntranslatedNam = 0x00004000 // v6
	attrCtime           = 0x00008000 // v6, draft-06 §7.7
	attrExtended        = 0x80000000
)

// v4+ file-type byte values
const (
	sshFileXferTypeRegular      = 1
	sshFileXferTypeDirectory    = 2
	sshFileXferTypeSymlink      = 3
	sshFileXferTypeSpecial      = 4
	sshFileXferTypeUnknown      = 5
	sshFileXferTypeSocket       = 6
	sshFileXferTypeCharDevice   = 7
	sshFileXferTypeBlockDevice  = 8
	sshFileXferTypeFifo         = 9
)

// Attrs is the decoded form of an SFTP ATTRS structure, across all
// supported protocol versions. Only fields that were present in the
// flag word are meaningful; callers should test Valid before reading a
// given field, or rely on the zero value meaning "not reported".
type Attrs struct {
	Valid uint32 // bitmask of attrXxx constants actually present

	Size        uint64
	Uid         uint32
	Gid         uint32
	Owner       string // v4+ OWNERGROUP, string form
	Group       string
	Permissions uint32
	Atime       int64 // seconds; v3 ACMODTIME or v4+ ACCESSTIME
	Mtime       int64 // seconds; v3 ACMODTIME or v4+ MODIFYTIME
	Ctime       int64 // v4+ CTIME
	FileType    uint8 // v4+ type byte; 0 if not present (v3 encodes type in Permissions)
}

// IsDir reports whether the decoded attributes describe a directory,
// using the v4+ type byte when present and falling back to the v3
// permissions bits otherwise.
func (a *Attrs) IsDir() bool {
	if a.FileType != 0 {
		return a.FileType == sshFileXferTypeDirectory
	}
	return a.Permissions&syntheticModeTypeMask == syntheticModeDir
}

// a small subset of the POSIX S_IFMT encoding, used only to recover
// "is this a directory" from v3 permissions bits when no v4+ type byte
// was sent.
const (
	syntheticModeTypeMask = 0170000
	syntheticModeDir      = 0040000
)

// encodeAttrsOut builds the wire ATTRS structure emitted by SETSTAT,
// FSETSTAT, OPEN and MKDIR. Spec §4.4: "Encoding emits only
// PERMISSIONS, MODIFYTIME, ACCESSTIME ... or an empty attribute block,
// as needed by the individual commands." want selects which of those
// fields to emit (permissions, and/or the access+modify time pair);
// a.Valid is not consulted, and owner/group or ACLs are never emitted.
type attrsWant struct {
	permissions bool
	times       bool // emits Atime+Mtime, as ACMODTIME (v<4) or ACCESSTIME+MODIFYTIME (v>=4)
}

func encodeAttrsOut(b []byte, version uint32, a *Attrs, want attrsWant) []byte {
	var flags uint32
	if want.permissions {
		flags |= attrPermissions
	}
	if want.times {
		if version < 4 {
			flags |= attrAcModTime
		} else {
			flags |= attrAccessTime | attrModifyTime
		}
	}
	b = putUint32(b, flags)
	if version >= 4 {
		// no file-type byte on the way out; only servers send it.
	}
	if want.permissions {
		b = putUint32(b, a.Permissions)
	}
	if want.times {
		if version < 4 {
			b = putUint32(b, uint32(a.Atime))
			b = putUint32(b, uint32(a.Mtime))
		} else {
			b = putUint64(b, uint64(a.Atime))
			b = putUint64(b, uint64(a.Mtime))
		}
	}
	return b
}

// decodeAttrs walks the flag word and consumes fields in the fixed
// order dictated by version, per spec §4.4. It never fails outright on
// a short buffer past the flag word: "short messages stop decoding and
// return the bytes consumed so far plus a debug log", so the return
// value always reflects what was actually consumed, with ok=false
// meaning decoding stopped early.
func decodeAttrs(b []byte, version uint32, maxLen uint32) (a *Attrs, rest []byte, ok bool, err error) {
	flags, rest, err := getUint32(b)
	if err != nil {
		return nil, b, false, err
	}
	a = &Attrs{Valid: flags}

	if version >= 4 {
		if len(rest) < 1 {
			return a, rest, false, nil
		}
		a.FileType = rest[0]
		rest = rest[1:]
	}

	if flags&attrSize != 0 {
		if len(rest) < 8 {
			return a, rest, false, nil
		}
		a.Size, rest, _ = getUint64(rest)
	}

	if version < 4 {
		if flags&attrUidGid != 0 {
			if len(rest) < 8 {
				return a, rest, false, nil
			}
			a.Uid, rest, _ = getUint32(rest)
			a.Gid, rest, _ = getUint32(rest)
		}
	} else {
		if flags&attrAllocationSize != 0 {
			if len(rest) < 8 {
				return a, rest, false, nil
			}
			_, rest, _ = getUint64(rest) // allocation size, not surfaced
		}
		if flags&attrOwnerGroup != 0 {
			var s string
			s, rest, err = getString(rest, maxLen)
			if err != nil {
				return a, rest, false, err
			}
			a.Owner = s
			s, rest, err = getString(rest, maxLen)
			if err != nil {
				return a, rest, false, err
			}
			a.Group = s
			a.Uid, a.Gid = resolveOwnerGroup(a.Owner, a.Group)
		}
	}

	if flags&attrPermissions != 0 {
		if len(rest) < 4 {
			return a, rest, false, nil
		}
		a.Permissions, rest, _ = getUint32(rest)
	}

	if version < 4 {
		if flags&attrAcModTime != 0 {
			if len(rest) < 8 {
				return a, rest, false, nil
			}
			var at, mt uint32
			at, rest, _ = getUint32(rest)
			mt, rest, _ = getUint32(rest)
			a.Atime = int64(at)
			a.Mtime = int64(mt)
		}
	} else {
		if flags&attrAccessTime != 0 {
			if len(rest) < 8 {
				return a, rest, false, nil
			}
			var t uint64
			t, rest, _ = getUint64(rest)
			a.Atime = int64(t)
			if flags&attrSubsecondTimes != 0 {
				if len(rest) < 4 {
					return a, rest, false, nil
				}
				_, rest, _ = getUint32(rest) // subsecond, not surfaced
			}
		}
		if flags&attrCreateTime != 0 {
			if len(rest) < 8 {
				return a, rest, false, nil
			}
			_, rest, _ = getUint64(rest) // createtime, not surfaced
			if flags&attrSubsecondTimes != 0 {
				if len(rest) < 4 {
					return a, rest, false, nil
				}
				_, rest, _ = getUint32(rest)
			}
		}
		if flags&attrModifyTime != 0 {
			if len(rest) < 8 {
				return a, rest, false, nil
			}
			var t uint64
			t, rest, _ = getUint64(rest)
			a.Mtime = int64(t)
			if flags&attrSubsecondTimes != 0 {
				if len(rest) < 4 {
					return a, rest, false, nil
				}
				_, rest, _ = getUint32(rest)
			}
		}
		if flags&attrCtime != 0 {
			if len(rest) < 8 {
				return a, rest, false, nil
			}
			var t uint64
			t, rest, _ = getUint64(rest)
			a.Ctime = int64(t)
			if flags&attrSubsecondTimes != 0 {
				if len(rest) < 4 {
					return a, rest, false, nil
				}
				_, rest, _ = getUint32(rest)
			}
		}
		if flags&attrAcl != 0 {
			var skip string
			skip, rest, err = getString(rest, maxLen)
			if err != nil {
				return a, rest, false, err
			}
			_ = skip
		}
		if flags&attrBits != 0 {
			if len(rest) < 4 {
				return a, rest, false, nil
			}
			_, rest, _ = getUint32(rest) // attrib-bits
			if version >= 6 {
				if len(rest) < 4 {
					return a, rest, false, nil
				}
				_, rest, _ = getUint32(rest) // attrib-bits-valid
			}
		}
		if version >= 6 {
			if flags&attrTextHint != 0 {
				if len(rest) < 1 {
					return a, rest, false, nil
				}
				rest = rest[1:]
			}
			if flags&attrMimeType != 0 {
				var skip string
				skip, rest, err = getString(rest, maxLen)
				if err != nil {
					return a, rest, false, err
				}
				_ = skip
			}
			if flags&attrLinkCount != 0 {
				if len(rest) < 4 {
					return a, rest, false, nil
				}
				_, rest, _ = getUint32(rest)
			}
			if flags&attrUntranslatedNam != 0 {
				var skip string
				skip, rest, err = getString(rest, maxLen)
				if err != nil {
					return a, rest, false, err
				}
				_ = skip
			}
		}
	}

	if flags&attrExtended != 0 {
		var count uint32
		count, rest, err = getUint32(rest)
		if err != nil {
			return a, rest, false, err
		}
		for i := uint32(0); i < count; i++ {
			if len(rest) < 4 {
				return a, rest, false, nil
			}
			var skip string
			skip, rest, err = getString(rest, maxLen) // ext type
			if err != nil {
				return a, rest, false, err
			}
			_ = skip
			skip, rest, err = getString(rest, maxLen) // ext data
			if err != nil {
				return a, rest, false, err
			}
			_ = skip
		}
	}

	return a, rest, true, nil
}
