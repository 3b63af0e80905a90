package notify

import (
	"fmt"
	"strconv"
	"strings"
)

// Message builds the key/value alert text. Keys and flags are wrapped in
// asterisks, which chat webhooks render as bold.
type Message struct {
	lines []string
}

// NewMessage starts a message about product.
func NewMessage(product string) *Message {
	return (&Message{}).Field("Product", product)
}

// Field appends a "Key: value" line.
func (m *Message) Field(key string, value any) *Message {
	m.lines = append(m.lines, "*"+key+":* "+formatValue(value))
	return m
}

// Flag appends a standalone highlighted line.
func (m *Message) Flag(text string) *Message {
	m.lines = append(m.lines, "*"+text+"*")
	return m
}

func (m *Message) String() string {
	return strings.Join(m.lines, "\n")
}

// Plain strips the markup, for logs.
func Plain(text string) string {
	return strings.ReplaceAll(text, "*", "")
}

func formatValue(v any) string {
	switch x := v.(type) {
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case *float64:
		if x == nil {
			return "none"
		}
		return strconv.FormatFloat(*x, 'f', -1, 64)
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}
