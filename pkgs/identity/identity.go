// Package identity derives stable message identifiers.
//
// A message is identified by the first value of its Message-ID header.
// Messages without one get a synthesized identity computed from their
// header fields: each (name, value) pair is hashed and the hashes are
// summed, so the result depends on the header multiset but not on its
// order. Distinct multisets may collide; that is a known limitation of
// the scheme and is not corrected here.
package identity

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/emx-mail/mailrows/pkgs/email"
)

// HeaderName is the protocol identifier header.
const HeaderName = "Message-ID"

// SyntheticPrefix marks identities computed from headers.
const SyntheticPrefix = "synthetic-"

// Of returns the identity of a message with the given headers. A warning is
// logged when more than one Message-ID is present; the first one is returned
// verbatim. A blank first Message-ID falls back to the synthetic identity.
// Of never touches the mail store.
func Of(log *slog.Logger, headers []email.Header) string {
	var ids []string
	for _, h := range headers {
		if strings.EqualFold(h.Name, HeaderName) {
			ids = append(ids, h.Value)
		}
	}
	if len(ids) > 1 {
		if log == nil {
			log = slog.Default()
		}
		log.Warn("message has multiple Message-ID headers, using the first",
			"count", len(ids), "message_id", ids[0])
	}
	if len(ids) > 0 && strings.TrimSpace(ids[0]) != "" {
		return ids[0]
	}
	return Synthesize(headers)
}

// Synthesize returns the header-derived identity, ignoring any Message-ID.
func Synthesize(headers []email.Header) string {
	return fmt.Sprintf("%s%016x", SyntheticPrefix, Sum(headers))
}

// Sum is the order-independent header hash: the wrapping sum of the
// xxhash of every name/value pair.
func Sum(headers []email.Header) uint64 {
	var sum uint64
	d := xxhash.New()
	for _, h := range headers {
		d.Reset()
		d.WriteString(h.Name)
		d.WriteString("\x00")
		d.WriteString(h.Value)
		sum += d.Sum64()
	}
	return sum
}

// IsSynthetic reports whether id was produced by Synthesize.
func IsSynthetic(id string) bool {
	return strings.HasPrefix(id, SyntheticPrefix)
}
