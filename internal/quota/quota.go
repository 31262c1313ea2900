// Package quota implements the per-client note rate limiter: a token bucket
// whose cost per note rises sharply once the client has drained it for a full
// history window.
package quota

import "math"

const (
	defaultMax        = 24000
	defaultAllowance  = 8000
	defaultMaxHistLen = 3
)

// Params is the "nq" event that tells the client its quota parameters.
type Params struct {
	Tag        string `json:"m"`
	Allowance  int    `json:"allowance"`
	Max        int    `json:"max"`
	MaxHistLen int    `json:"maxHistLen"`
}

// NoteQuota is not safe for concurrent use; callers hold the owning client's
// lock around Tick and Spend.
type NoteQuota struct {
	points     int
	allowance  int
	max        int
	maxHistLen int
	history    []int
}

func New() *NoteQuota {
	q := &NoteQuota{
		points:     defaultMax,
		allowance:  defaultAllowance,
		max:        defaultMax,
		maxHistLen: defaultMaxHistLen,
	}
	q.history = make([]int, q.maxHistLen)
	for i := range q.history {
		q.history[i] = q.max
	}
	return q
}

// Tick records the current level into the history window and refills one
// allowance, clamped at max. Called once per second by the quota ticker.
func (q *NoteQuota) Tick() {
	q.history = append([]int{q.points}, q.history...)
	q.history = q.history[:q.maxHistLen]

	if q.points < q.max {
		q.points += q.allowance
		if q.points > q.max {
			q.points = q.max
		}
	}
}

// Spend deducts the cost of a batch of needed notes, reporting whether the
// batch is allowed. When the history window sums to zero or below, the client
// has been saturating the bucket for the whole window and each note costs a
// full allowance instead.
func (q *NoteQuota) Spend(needed int) bool {
	if needed < 0 {
		return false
	}

	sum := 0
	for _, p := range q.history {
		sum += p
	}

	if sum <= 0 {
		if needed > math.MaxInt/q.allowance {
			return false
		}
		needed *= q.allowance
	}

	if q.points < needed {
		return false
	}
	q.points -= needed
	return true
}

func (q *NoteQuota) Points() int {
	return q.points
}

func (q *NoteQuota) Max() int {
	return q.max
}

func (q *NoteQuota) HistoryLen() int {
	return len(q.history)
}

func (q *NoteQuota) Params() Params {
	return Params{
		Tag:        "nq",
		Allowance:  q.allowance,
		Max:        q.max,
		MaxHistLen: q.maxHistLen,
	}
}
