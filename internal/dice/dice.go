// Package dice parses and rolls dice expressions of the form NdS with
// optional modifiers, e.g. "2d6+3", "1d20+1d4-2", or the Fudge variant
// "4dF". Rolls use a cryptographically-strong random source.
package dice

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

const (
	maxTerms       = 20
	maxDicePerTerm = 100
	minSides       = 2
	maxSides       = 1000
)

// ParseError describes a malformed dice expression. Parsing never
// panics; every malformed input maps to a ParseError.
type ParseError struct {
	Expr string
	Pos  int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid dice expression %q at position %d: %s", e.Expr, e.Pos, e.Msg)
}

// term is one parsed component: either a dice group or a constant.
type term struct {
	sign     int
	count    int
	sides    int
	fudge    bool
	constant int
	isConst  bool
}

// Expression is the parsed form of a dice expression.
type Expression struct {
	raw   string
	terms []term
}

// String returns the original expression text.
func (e *Expression) String() string {
	return e.raw
}

// Result holds the outcome of rolling an expression. Rolls lists every
// individual die face in roll order; constants contribute to Total only.
type Result struct {
	Expression string `json:"expression"`
	Rolls      []int  `json:"rolls"`
	Total      int    `json:"total"`
}

// Parse parses a dice expression into its evaluable form.
func Parse(expr string) (*Expression, error) {
	compact := strings.ReplaceAll(expr, " ", "")
	if compact == "" {
		return nil, &ParseError{Expr: expr, Pos: 0, Msg: "empty expression"}
	}

	var terms []term
	hasDice := false
	pos := 0
	sign := 1

	for pos < len(compact) {
		if len(terms) >= maxTerms {
			return nil, &ParseError{Expr: expr, Pos: pos, Msg: fmt.Sprintf("too many terms (max %d)", maxTerms)}
		}

		switch compact[pos] {
		case '+':
			sign = 1
			pos++
			continue
		case '-':
			sign = -1
			pos++
			continue
		}

		start := pos
		count, digits := readNumber(compact, pos)
		pos += digits

		if pos < len(compact) && (compact[pos] == 'd' || compact[pos] == 'D') {
			pos++
			if digits == 0 {
				count = 1
			}
			if count < 1 || count > maxDicePerTerm {
				return nil, &ParseError{Expr: expr, Pos: start, Msg: fmt.Sprintf("dice count must be 1-%d", maxDicePerTerm)}
			}

			if pos < len(compact) && (compact[pos] == 'F' || compact[pos] == 'f') {
				pos++
				terms = append(terms, term{sign: sign, count: count, fudge: true})
				hasDice = true
				sign = 1
				continue
			}

			sides, sideDigits := readNumber(compact, pos)
			if sideDigits == 0 {
				return nil, &ParseError{Expr: expr, Pos: pos, Msg: "missing die size"}
			}
			pos += sideDigits
			if sides < minSides || sides > maxSides {
				return nil, &ParseError{Expr: expr, Pos: start, Msg: fmt.Sprintf("die size must be %d-%d", minSides, maxSides)}
			}

			terms = append(terms, term{sign: sign, count: count, sides: sides})
			hasDice = true
			sign = 1
			continue
		}

		if digits == 0 {
			return nil, &ParseError{Expr: expr, Pos: pos, Msg: fmt.Sprintf("unexpected character %q", compact[pos])}
		}
		terms = append(terms, term{sign: sign, constant: count, isConst: true})
		sign = 1
	}

	if len(terms) == 0 {
		return nil, &ParseError{Expr: expr, Pos: 0, Msg: "empty expression"}
	}
	if !hasDice {
		return nil, &ParseError{Expr: expr, Pos: 0, Msg: "expression contains no dice"}
	}

	return &Expression{raw: expr, terms: terms}, nil
}

// Roll evaluates the expression with a fresh random draw per die.
func (e *Expression) Roll() (Result, error) {
	result := Result{Expression: e.raw, Rolls: []int{}}

	for _, t := range e.terms {
		if t.isConst {
			result.Total += t.sign * t.constant
			continue
		}
		for i := 0; i < t.count; i++ {
			var value int
			var err error
			if t.fudge {
				value, err = randomInt(3)
				value-- // faces -1, 0, +1
			} else {
				value, err = randomInt(t.sides)
				value++
			}
			if err != nil {
				return Result{}, fmt.Errorf("failed to draw random value: %w", err)
			}
			result.Rolls = append(result.Rolls, value)
			result.Total += t.sign * value
		}
	}

	return result, nil
}

// Roll parses and evaluates an expression in one step.
func Roll(expr string) (Result, error) {
	parsed, err := Parse(expr)
	if err != nil {
		return Result{}, err
	}
	return parsed.Roll()
}

// readNumber reads a decimal number at pos, returning its value and the
// count of digits consumed (0 if none).
func readNumber(s string, pos int) (int, int) {
	value := 0
	digits := 0
	for pos+digits < len(s) && s[pos+digits] >= '0' && s[pos+digits] <= '9' {
		// Saturate well above every range ceiling so absurd lengths
		// fail the caller's range checks instead of overflowing.
		if value <= maxSides*10 {
			value = value*10 + int(s[pos+digits]-'0')
		}
		digits++
	}
	return value, digits
}

func randomInt(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, err
	}
	return int(v.Int64()), nil
}
