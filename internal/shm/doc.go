// Package shm implements the sanitizing shared memory allocator.
//
// Sizes reach the allocator from an opaque capability object and from the
// remote service, both over integer channels that sign-extend 32-bit
// negatives. Plan applies, in order:
//
//  1. sign-extension repair: 0xFFFFFFFF_xxxxxxxx becomes 0xxxxxxxxx
//  2. capability-path clamp: TagGetCaps sizes below 408 become 408
//  3. rejection above 64 MiB or at/above 0xE0000000
//  4. zero size means nothing to allocate
//
// Allocate then maps a zeroed Region through a Backend (Go heap or Linux
// memfd) and writes one structured log line describing every branch taken.
package shm
