// Package storage provides key set readers and writers for keyczar.
//
// Every backend presents the same shape: one "meta" record holding the
// serialized KeyMetadata and one record per key version named by its version
// number. Writers stage everything and commit on Finish; a failed save
// leaves the previously committed key set intact.
//
// Supported backends:
//   - file://path - local directory, staged temp files renamed on Finish (read/write)
//   - zip://path - single zip archive, always fully rewritten (read/write)
//   - http(s)://host/path - read-only web fetch of <base>/meta and <base>/<version>
//   - s3://bucket/prefix?region=...&endpoint=... - read-only S3 objects
//   - vault://host:port/mount/path - HashiCorp Vault KV v2, one secret per key set (read/write)
//
// Use ReaderFor and WriterFor to build a backend from a location URI.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0
package storage
