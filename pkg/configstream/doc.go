/*
Package configstream reads the distinguished `.config` streams.

Pod behavior is driven by ordinary append-only streams: `.config/owner`
holds ownership, `.config/routing` the link rewrite map, `.config/domains`
the custom-domain history, and `<stream>/.config` a per-stream JSON
Schema. The current value of each is the latest non-deleted record with
the distinguished name; domains are the fold of their add/remove history.

Schema validation runs on record writes to streams whose has_schema flag
is set; strict mode rejects non-conforming payloads with
VALIDATION_ERROR, permissive mode logs and accepts.
*/
package configstream
