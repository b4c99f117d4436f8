// Package cache implements the shared on-disk package cache. Each identity is
// materialized as <CachePath>/<name>/<version>/ holding the unpacked artifact,
// a copy of the artifact file and a completion marker written last. Entries
// are assembled in a staging directory and published with a single rename, so
// readers observe either nothing or a complete entry. Published entries are
// never modified or removed by this package.
package cache
