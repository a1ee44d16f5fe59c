// Package netstate implements the per-run snapshot of the federation the
// synchronizer converges on.
//
// A NetworkState holds a copy of every site registry record together with two
// derived sets: the sites observed to be unreachable (offline) and the origin
// sites whose local receive queue cannot make progress (stalled). Two states
// are equal when their sites agree on sequence numbers and base URLs and their
// stalled sets match; offline observations are transient and never take part
// in the comparison.
package netstate
