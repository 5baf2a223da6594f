package orders

type Status string

const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// validNext encodes the forward-only lifecycle. Terminal statuses have no
// outgoing edges.
var validNext = map[Status]map[Status]bool{
	StatusPending: {
		StatusPaid:      true,
		StatusCancelled: true,
		StatusExpired:   true,
	},
	StatusPaid: {
		StatusCompleted: true,
	},
	StatusCompleted: {},
	StatusCancelled: {},
	StatusExpired:   {},
}

func CanTransition(from, to Status) bool {
	next, ok := validNext[from]
	if !ok {
		return false
	}
	return next[to]
}

func (s Status) Terminal() bool {
	return len(validNext[s]) == 0
}

func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}
