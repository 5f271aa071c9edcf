// Package storage implements the disk-backed cache behind the proxy core,
// translating package names and tarball paths into files under
// StoragePath/metadata and StoragePath/assets. Each entry is a body file plus
// a small JSON sidecar carrying the opaque Last-Modified string (and content
// type for assets). Writes go through temp file + rename so readers never
// observe a half-written entry; reads hand back an os.File so the stream is
// re-playable storage rather than a live socket.
package storage
