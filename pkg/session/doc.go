/*
Package session runs interpreter turns against persisted sessions.

A Manager loads the encoded State of a session, decodes it against the
current Program, advances it with a batch of events and saves the result,
all while holding the session lock. Local callers are serialized with a
ref-counted mutex; replicas coordinate through an optional
ports.DistributedLocker such as the Redis adapter.
*/
package session
