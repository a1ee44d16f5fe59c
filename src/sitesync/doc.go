// Package sitesync wires the components of a site daemon together.
//
// A SiteSync reads its configuration, loads the site directory from
// sites.json, opens the store, binds the TCP transport, and starts the node
// and the optional HTTP service.
package sitesync
