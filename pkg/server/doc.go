/*
Package server is the HTTP surface of WebPods.

Every request is routed in three steps. First, a fixed system-prefix set
(/health, /metrics, /api, /auth, /oauth2, /connect, /.well-known) is
dispatched to system endpoints on every host; pod content can never shadow
them. Second, the host is mapped onto a pod: the leftmost DNS label of an
apex subdomain, the configured root pod on the bare apex, or a custom
domain claimed via `.config/domains`. Third, the verb decides the
operation: GET reads or lists, POST creates streams (empty body) or
appends records, DELETE tombstones, purges or destroys.

Pod-content GETs consult the pod's routing config for a single link
rewrite hop before resolution, then negotiate the response: externally
stored records answer 302 with the blob URL, inline records are served
with their stored content type and the chain metadata in X-* headers.

Request headers of the form x-record-header-<k> are persisted into the
record's headers map when <k> is allow-listed, and echoed back lowercased
on reads.
*/
package server
