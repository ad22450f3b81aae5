package gate

import (
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

var ErrUnknownKey = errors.New("unknown key")

// Calculator is the keypad state machine behind the disguise. It keeps one
// pending operator; the digit after an operator starts a new display value.
type Calculator struct {
	display  string
	waiting  bool
	operand  float64
	operator string
}

func NewCalculator() *Calculator {
	return &Calculator{display: "0"}
}

func (c *Calculator) Display() string { return c.display }

// Press applies one key: a digit, ".", "+", "-", "*", "/", "AC", "backspace" or "=".
func (c *Calculator) Press(key string) error {
	switch key {
	case "AC":
		*c = Calculator{display: "0"}
	case "backspace":
		if len(c.display) > 1 {
			c.display = c.display[:len(c.display)-1]
		} else {
			c.display = "0"
		}
	case "+", "-", "*", "/":
		c.operand = parseFloat(c.display)
		c.operator = key
		c.waiting = true
	case ".":
		if !strings.Contains(c.display, ".") {
			c.display += "."
		}
	case "=":
		c.Equals()
	default:
		if len(key) != 1 || key[0] < '0' || key[0] > '9' {
			return errors.Wrap(ErrUnknownKey, key)
		}
		switch {
		case c.waiting:
			c.display = key
			c.waiting = false
		case c.display == "0":
			c.display = key
		default:
			c.display += key
		}
	}
	return nil
}

// Equals applies the pending operator, if any, and returns the display.
func (c *Calculator) Equals() string {
	if c.operator == "" {
		return c.display
	}
	second := parseFloat(c.display)
	var res float64
	switch c.operator {
	case "+":
		res = c.operand + second
	case "-":
		res = c.operand - second
	case "*":
		res = c.operand * second
	case "/":
		res = c.operand / second
	}
	c.display = FormatNumber(res)
	c.operator = ""
	c.operand = 0
	return c.display
}

// parseFloat reads the display; an unreadable one is NaN.
func parseFloat(s string) float64 {
	s = strings.TrimSuffix(s, ".")
	f, err := strconv.ParseFloat(s, 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return math.NaN()
	}
	return f
}

// FormatNumber renders f the way a browser prints a number: shortest digits,
// exponent form outside [1e-6, 1e21), Infinity and NaN spelled out.
func FormatNumber(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case f == 0:
		return "0"
	}

	abs := math.Abs(f)
	if abs >= 1e21 || abs < 1e-6 {
		s := strconv.FormatFloat(f, 'e', -1, 64)
		mant, exp, _ := strings.Cut(s, "e")
		sign := exp[:1]
		digits := strings.TrimLeft(exp[1:], "0")
		return mant + "e" + sign + digits
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
