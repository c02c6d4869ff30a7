package classify

import "fmt"

// Label is a move quality classification. Labels are ordered best to worst;
// Unknown marks a move that could not be classified (no evaluation).
type Label uint8

const (
	Unknown Label = iota
	Book
	Forced
	Brilliant
	Great
	Best
	Excellent
	Good
	Inaccuracy
	Mistake
	Miss
	Blunder
)

// Labels lists the classifications in order, best first.
var Labels = []Label{Book, Forced, Brilliant, Great, Best, Excellent, Good, Inaccuracy, Mistake, Miss, Blunder}

var labelNames = [...]string{
	Unknown:    "unknown",
	Book:       "book",
	Forced:     "forced",
	Brilliant:  "brilliant",
	Great:      "great",
	Best:       "best",
	Excellent:  "excellent",
	Good:       "good",
	Inaccuracy: "inaccuracy",
	Mistake:    "mistake",
	Miss:       "miss",
	Blunder:    "blunder",
}

// nominal accuracy contribution per label
var labelAccuracy = [...]float64{
	Book:       100,
	Forced:     100,
	Brilliant:  100,
	Great:      100,
	Best:       100,
	Excellent:  90,
	Good:       70,
	Inaccuracy: 40,
	Mistake:    20,
	Miss:       0,
	Blunder:    0,
}

func (l Label) String() string {
	if int(l) < len(labelNames) {
		return labelNames[l]
	}
	return fmt.Sprintf("label(%d)", l)
}

// Accuracy returns the nominal accuracy of a move with this label.
func (l Label) Accuracy() float64 {
	if int(l) < len(labelAccuracy) {
		return labelAccuracy[l]
	}
	return 0
}

// Symbol returns the annotation glyph commonly printed next to the move.
func (l Label) Symbol() string {
	switch l {
	case Brilliant:
		return "!!"
	case Great:
		return "!"
	case Inaccuracy:
		return "?!"
	case Mistake:
		return "?"
	case Miss, Blunder:
		return "??"
	}
	return ""
}

// IsTopTier reports whether the label is Best or better.
func (l Label) IsTopTier() bool {
	return l >= Book && l <= Best
}

func (l Label) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

func (l *Label) UnmarshalText(b []byte) error {
	for i, name := range labelNames {
		if name == string(b) {
			*l = Label(i)
			return nil
		}
	}
	return fmt.Errorf("unknown classification %q", b)
}
