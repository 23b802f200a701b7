package redisx

import "time"

const (
	// Idempotent order creation: idem:order:create:{source}:{buyer_auth_id}:{idempotency_key} -> JSON order ids
	KeyIdemOrderCreate = "idem:order:create:%s:%s:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLDedup       = 48 * time.Hour
)
