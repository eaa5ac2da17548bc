package domain

import "fmt"

// Input is the selector a criterion is edited with.
type Input interface {
	Render() string
	CurrentValue() float64
}

type BinaryInput struct{ Value float64 }

func (b BinaryInput) Render() string {
	if b.Value == 1 {
		return "[x] yes  [ ] no"
	}
	return "[ ] yes  [x] no"
}

func (b BinaryInput) CurrentValue() float64 { return b.Value }

type TernaryInput struct{ Value float64 }

func (t TernaryInput) Render() string {
	marks := [3]string{" ", " ", " "}
	switch t.Value {
	case -1:
		marks[0] = "x"
	case 1:
		marks[2] = "x"
	default:
		marks[1] = "x"
	}
	return fmt.Sprintf("[%s] bad  [%s] ok  [%s] good", marks[0], marks[1], marks[2])
}

func (t TernaryInput) CurrentValue() float64 { return t.Value }

// InputFor picks the selector for a criterion by its type.
func InputFor(c Criterion) Input {
	if c.Type == TypeTernary {
		return TernaryInput{Value: c.Value}
	}
	return BinaryInput{Value: c.Value}
}
