package queue

// Redis key layout. Everything for one queue lives under "notify:{name}:".
// The braces are a cluster hash tag: all keys of a queue map to one slot so
// the Lua scripts can touch them together.
//
//	notify:{name}:job:{id}   Hash   the job
//	notify:{name}:wait       ZSet   waiting jobs scored by run-at (unix ms)
//	notify:{name}:active     ZSet   leased jobs scored by lease deadline
//	notify:{name}:completed  ZSet   completed jobs scored by finish time
//	notify:{name}:failed     ZSet   exhausted jobs scored by finish time
type keys struct {
	prefix string
}

func newKeys(queueName string) keys {
	return keys{prefix: "notify:{" + queueName + "}:"}
}

func (k keys) job(id string) string { return k.prefix + "job:" + id }
func (k keys) jobPrefix() string    { return k.prefix + "job:" }
func (k keys) wait() string         { return k.prefix + "wait" }
func (k keys) active() string       { return k.prefix + "active" }
func (k keys) completed() string    { return k.prefix + "completed" }
func (k keys) failed() string       { return k.prefix + "failed" }
