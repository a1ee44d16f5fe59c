// Package site defines the registry record every site of the federation is
// known by: its identity, its network address and its replication cursor.
//
// A site originates two independent streams of Inter-Site Messages, public
// and private, each numbered by its own monotonic counter. The highest of the
// two is the latest message known to have been originated by the site.
package site
