package engine

import "fmt"

const CardSize = 5

// Wild is the value of the free cell. It is always considered selected.
const Wild = 0

type Card [CardSize][CardSize]int

// NewCard validates a decoded grid. The grid must be CardSize x CardSize,
// hold exactly one Wild cell and no other value outside [MinNumber, MaxNumber].
func NewCard(rows [][]int) (Card, error) {
	var c Card
	if len(rows) != CardSize {
		return c, fmt.Errorf("%w: card has %d rows", ErrMalformedEvent, len(rows))
	}
	wilds := 0
	for i, row := range rows {
		if len(row) != CardSize {
			return c, fmt.Errorf("%w: card row %d has %d cells", ErrMalformedEvent, i, len(row))
		}
		for j, n := range row {
			switch {
			case n == Wild:
				wilds++
			case n < MinNumber || n > MaxNumber:
				return c, fmt.Errorf("%w: card cell %d,%d = %d", ErrNumberOutOfRange, i, j, n)
			}
			c[i][j] = n
		}
	}
	if wilds != 1 {
		return c, fmt.Errorf("%w: card has %d wild cells", ErrMalformedEvent, wilds)
	}
	return c, nil
}

func (c Card) Contains(n int) bool {
	for _, row := range c {
		for _, v := range row {
			if v == n {
				return true
			}
		}
	}
	return false
}

// Rows returns the grid as nested slices, the shape the server sends.
func (c Card) Rows() [][]int {
	rows := make([][]int, CardSize)
	for i := range c {
		rows[i] = append([]int(nil), c[i][:]...)
	}
	return rows
}
