package coreact

// noCopy marks structs that must not be copied after first use, such
// as the Scheduler whose tasks point back at it. go vet's copylocks
// check reports copies of values embedding it.
type noCopy struct{}

// Lock is a no-op used by go vet.
func (*noCopy) Lock() {}

// Unlock is a no-op used by go vet.
func (*noCopy) Unlock() {}
