/*
Package blob moves binary record content out of the catalog database.

Content is addressed by SHA-256: each stream directory carries a .storage
subdirectory holding one canonical file per distinct payload, plus one
alias per record name pointing at it (hard link where the filesystem
allows, copy otherwise). Canonical files are immutable once written;
aliases are replaced atomically by write-to-temp and rename.

Soft deletion removes only the alias. Purge removes the canonical file
once no alias in the stream references it. Redirect URLs are produced
from a configured template with {pod}, {stream_path} and {record_name}
placeholders; callers never construct them.
*/
package blob
