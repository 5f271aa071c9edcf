// Package server hosts the Fiber HTTP service that maps npm registry URL
// conventions onto the proxy core: tarball paths (containing "/-/") stream
// assets, everything else resolves package metadata documents. The package
// wires request-ID and recover middlewares plus structured request logging,
// and keeps the core behind a narrow interface so tests can inject fakes.
package server
