package util

import "github.com/rs/xid"

// NewID returns a sortable, globally unique id, optionally prefixed as
// "prefix_<xid>".
func NewID(prefix string) string {
	id := xid.New().String()
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}
