/*
Package permission evaluates stream access.

A stream's access_permission is either a built-in mode (public, private,
owner) or a reference to another stream in the same pod whose records form
a per-user permission table. References are folded in index order: each
entry for the user overwrites the running {read, write} tuple, a deleted
entry clears it, and absence denies. The pod owner always has full access
to every stream; a stream's creator has full access to it, except on
system (.config) streams, which answer to the current pod owner only.

Reduced tuples are cached per (pod, permission stream, user) and
invalidated whenever the permission stream is appended to.
*/
package permission
