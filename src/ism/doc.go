// Package ism implements the canonical XML form of Inter-Site Messages.
//
// An Inter-Site Message is an opaque record originated by exactly one site
// and identified by its origin and sequence number:
//
//	<message origin="2" seq="11" prev="9" visibility="private" dest="4">...</message>
//
// Sequence numbers of an origin are allocated from a single counter shared by
// both visibility classes. prev links a message to its predecessor in the
// same chain, or is -1 for the first one: for public messages the chain is
// every public message of the origin, for private messages it is every
// private message from the origin to the same dest. A receiving site can
// therefore always tell whether it holds a message's predecessor.
//
// The body is never interpreted; it is carried as raw inner XML.
package ism
