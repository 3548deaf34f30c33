package redisqueue

// Key layout, all under "oq:{name}:":
//
//	job:{id}   hash with the job fields
//	waiting    list, LPUSH on enqueue and RPOP on reserve
//	active     sorted set scored by lease deadline (unix ms)
//	delayed    sorted set scored by due time (unix ms)
//	completed  list, newest first, capped at RemoveOnComplete
//	failed     list, newest first, capped at RemoveOnFail
//	seq        counter for generated job ids
type keys struct {
	prefix string
}

func newKeys(name string) keys { return keys{prefix: "oq:" + name + ":"} }

func (k keys) job(id string) string { return k.prefix + "job:" + id }
func (k keys) jobPrefix() string    { return k.prefix + "job:" }
func (k keys) waiting() string      { return k.prefix + "waiting" }
func (k keys) active() string       { return k.prefix + "active" }
func (k keys) delayed() string      { return k.prefix + "delayed" }
func (k keys) completed() string    { return k.prefix + "completed" }
func (k keys) failed() string       { return k.prefix + "failed" }
func (k keys) seq() string          { return k.prefix + "seq" }
