// Package msgpak reads and writes msgpak bundles, the container used to
// batch-transfer Inter-Site Messages between sites as a single file or
// network payload.
//
// A bundle is a ZIP archive with named entries:
//
//	InterSiteMessage  required  <?xml ...?><messages>...</messages>
//	SiteGrantISM      optional  a single <message> document, the bootstrap grant
//
// A bundle without an InterSiteMessage entry is corrupt or foreign. A bundle
// without a SiteGrantISM entry is the common case; callers test for
// ErrMissingSection and treat the grant as absent.
package msgpak
