/*
Package session coordinates exclusive access to devices and run documents.

A device can only be driven by one exploration at a time. Within a process the
Manager serializes leases with reference-counted mutexes; across processes it
defers to an optional DistributedLocker such as the Redis adapter.
*/
package session
