// Package streamsync aligns frames from independently-arriving camera
// and mask streams into synchronized groups.
//
// Responsibilities: bounded per-stream buffering, timestamp-window
// combination search, and synchronous group delivery to a registered
// callback. Key types: StreamFrame, SynchronizedGroup, Synchronizer.
//
// Dependency rule: streamsync knows nothing about the engine or the
// downstream sequencer; it only hands groups to its callback.
package streamsync
