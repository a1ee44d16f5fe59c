// Package store persists what a site knows about the federation: the site
// registry records and the log of every Inter-Site Message it has processed,
// indexed by origin and sequence number.
//
// InmemStore keeps everything in maps and is used by tests and by nodes run
// without persistence. BadgerStore writes through to a Badger key-value
// database and survives restarts.
package store
