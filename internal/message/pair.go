package message

// Pair is the unordered pair of users a conversation is made of. There is no
// conversation row: a Pair is the predicate over messages.
type Pair struct {
	a, b string
}

func NewPair(x, y string) Pair {
	if y < x {
		x, y = y, x
	}
	return Pair{a: x, b: y}
}

// Matches reports whether a message from sender to receiver belongs to the
// conversation, in either direction.
func (p Pair) Matches(sender, receiver string) bool {
	return (sender == p.a && receiver == p.b) || (sender == p.b && receiver == p.a)
}

// Key is stable for both orderings of the pair.
func (p Pair) Key() string {
	return p.a + ":" + p.b
}
