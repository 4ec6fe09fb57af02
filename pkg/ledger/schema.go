package ledger

import "fmt"

// Redis key pattern helpers
//
// All Redis keys and Pub/Sub channels are namespaced by network name so that
// several rally networks can coexist on a single Redis server.
//
// Key pattern: rally:{network}:{entity}:{hash}
// Channel pattern: rally:{network}:agent:{agent}:calls

// RecordKey returns the Redis key for a record hash.
// Pattern: rally:{network}:record:{hash}
func RecordKey(network string, hash Hash) string {
	return fmt.Sprintf("rally:%s:record:%s", network, hash)
}

// UpdatesKey returns the Redis key for the ZSET of records that update hash.
// Pattern: rally:{network}:record:{hash}:updates
func UpdatesKey(network string, hash Hash) string {
	return fmt.Sprintf("rally:%s:record:%s:updates", network, hash)
}

// DeletesKey returns the Redis key for the ZSET of delete records targeting hash.
// Pattern: rally:{network}:record:{hash}:deletes
func DeletesKey(network string, hash Hash) string {
	return fmt.Sprintf("rally:%s:record:%s:deletes", network, hash)
}

// LinksKey returns the Redis key for the link index of a base and link type.
// Members are link create hashes scored by link timestamp.
// Pattern: rally:{network}:links:{base}:{link_type}
func LinksKey(network string, base Hash, linkType LinkType) string {
	return fmt.Sprintf("rally:%s:links:%s:%s", network, base, linkType)
}

// LinkKey returns the Redis key for a link body.
// Pattern: rally:{network}:link:{create_hash}
func LinkKey(network string, createHash Hash) string {
	return fmt.Sprintf("rally:%s:link:%s", network, createHash)
}

// AgentCallsChannel returns the Pub/Sub channel on which an agent receives
// remote calls.
// Pattern: rally:{network}:agent:{agent}:calls
func AgentCallsChannel(network string, agent Hash) string {
	return fmt.Sprintf("rally:%s:agent:%s:calls", network, agent)
}

// TimestampScore converts a timestamp to a ZSET score.
// Microsecond Unix timestamps stay well inside float64's exact integer range.
func TimestampScore(ts Timestamp) float64 {
	return float64(ts)
}

// TimestampFromScore converts a ZSET score back to a timestamp.
func TimestampFromScore(score float64) Timestamp {
	return Timestamp(score)
}
