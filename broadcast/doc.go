// Package broadcast carries notifications between execution contexts that
// share one application instance's storage medium.
//
// The medium is modelled as a shared notification bus with last-write-wins
// storage: every Publish overwrites the channel's stored value and notifies
// current subscribers. There is no delivery guarantee to contexts created
// after a write, but [Bus.Latest] lets a late context read the last value.
//
// # Implementations
//
//   - [MemoryBus]: in-process, handlers run synchronously on the publisher's
//     goroutine. Used for contexts living in one process and for tests.
//   - [RedisBus]: SET of the sealed message plus PUBLISH on a pub/sub channel.
//
// Messages are encoded with deterministic CBOR so the same logical message
// always produces the same bytes.
//
// # What this package must NOT do
//
//   - Interpret payloads. Loop prevention and "newer timestamp wins" are the
//     consumer's job.
//   - Import goSession.
package broadcast
