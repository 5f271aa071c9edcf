// Package npmproxy holds the mirror's decision core: for every metadata or
// tarball request it composes the storage port and the remote port into a
// single optional result. Metadata is fetched remote-first (the upstream
// registry mutates package documents frequently) with the cache as fallback;
// tarballs are served cache-first and written through on a miss. The package
// owns the remote client's lifetime and exposes exactly three operations
// (GetPackage, GetAsset, Close) to the HTTP layer above it.
package npmproxy
