package session

type UnitKind int

const (
	UnitAudio UnitKind = iota + 1
	UnitText
)

// Unit is one piece of caller input: an audio frame or a text chunk.
type Unit struct {
	Kind        UnitKind
	Audio       []byte
	Text        string
	EndOfStream bool
}

func Audio(data []byte, end bool) Unit {
	return Unit{Kind: UnitAudio, Audio: data, EndOfStream: end}
}

func Text(text string, end bool) Unit {
	return Unit{Kind: UnitText, Text: text, EndOfStream: end}
}

// Queue holds units submitted before the session can transmit them. It is
// not safe for concurrent use; Session guards it.
type Queue struct {
	units []Unit
}

func (q *Queue) Push(u Unit) {
	q.units = append(q.units, u)
}

// PushFront returns a unit that could not be transmitted to the head.
func (q *Queue) PushFront(u Unit) {
	q.units = append([]Unit{u}, q.units...)
}

func (q *Queue) Pop() (Unit, bool) {
	if len(q.units) == 0 {
		return Unit{}, false
	}
	u := q.units[0]
	q.units[0] = Unit{}
	q.units = q.units[1:]
	return u, true
}

func (q *Queue) Len() int {
	return len(q.units)
}

func (q *Queue) Clear() int {
	n := len(q.units)
	q.units = nil
	return n
}
