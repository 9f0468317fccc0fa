package sftp

import (
	"os/user"
	"strconv"

	"github.com/holger24/afd-sftp/ulog"
)

// resolveOwnerGroup turns a v4+ OWNERGROUP string pair into numeric
// uid/gid via the local name-service, per spec §4.4 ("two length-
// prefixed strings optionally resolved to uid/gid via local name-
// service lookup"). Resolution failures are not fatal: the numeric
// fields are simply left at zero and the string forms remain on Attrs.
func resolveOwnerGroup(owner, group string) (uid, gid uint32) {
	if owner != "" {
		if u, err := user.Lookup(owner); err == nil {
			if n, err := strconv.ParseUint(u.Uid, 10, 32); err == nil {
				uid = uint32(n)
			}
		} else {
			ulog.DebugfFor("sftp", "owner lookup failed for %q: %s", owner, err)
		}
	}
	if group != "" {
		if g, err := user.LookupGroup(group); err == nil {
			if n, err := strconv.ParseUint(g.Gid, 10, 32); err == nil {
				gid = uint32(n)
			}
		} else {
			ulog.DebugfFor("sftp", "group lookup failed for %q: %s", group, err)
		}
	}
	return
}
