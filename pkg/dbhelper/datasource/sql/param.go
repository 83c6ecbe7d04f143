package sql

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Direction tells how a parameter travels between caller and database.
type Direction int

const (
	Input Direction = iota
	Output
	InputOutput
	ReturnValue
)

func (d Direction) String() string {
	switch d {
	case Input:
		return "input"
	case Output:
		return "output"
	case InputOutput:
		return "inputoutput"
	case ReturnValue:
		return "returnvalue"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Param is one bound statement parameter. Name may keep its "@" prefix. For Output and InputOutput, Value must be a
// non-nil pointer that receives the result.
type Param struct {
	Name      string    `json:"name"`
	Value     any       `json:"value"`
	Direction Direction `json:"direction"`
}

// In returns an input parameter.
func In(name string, value any) Param {
	return Param{Name: name, Value: value, Direction: Input}
}

// Out returns an output parameter writing into dest.
func Out(name string, dest any) Param {
	return Param{Name: name, Value: dest, Direction: Output}
}

// InOut returns a parameter that sends the value behind dest and receives the result into it.
func InOut(name string, dest any) Param {
	return Param{Name: name, Value: dest, Direction: InputOutput}
}

// BareName returns Name without a leading "@", ":" or "$".
func (p Param) BareName() string {
	return strings.TrimLeft(p.Name, "@:$")
}

func (p Param) String() string {
	return fmt.Sprintf("%s(%s)=%s", p.Name, p.Direction, formatArg(p.Value))
}

// Params is the ordered parameter list of a command.
type Params []Param

func (ps Params) String() string {
	parts := make([]string, len(ps))
	for i, p := range ps {
		parts[i] = p.String()
	}

	return "[" + strings.Join(parts, ", ") + "]"
}

// MarshalJSON keeps nil lists as [] so published exceptions have a stable shape.
func (ps Params) MarshalJSON() ([]byte, error) {
	if ps == nil {
		return []byte("[]"), nil
	}

	return json.Marshal([]Param(ps))
}

func (ps Params) lookup(name string) (Param, bool) {
	for _, p := range ps {
		if strings.EqualFold(p.BareName(), name) {
			return p, true
		}
	}

	return Param{}, false
}
