// Package session persists named conversations so a chat can be resumed
// later. A session is the opaque history export document keyed by an ID;
// stores never interpret its content.
//
// InMemoryStore suits tests. DirStore keeps one JSON file per session in a
// directory.
package session
