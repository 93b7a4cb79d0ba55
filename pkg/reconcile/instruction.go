package reconcile

import (
	"fmt"

	"github.com/weft-dev/weft/pkg/doctree"
	"github.com/weft-dev/weft/pkg/textbuf"
)

// Part identifies which generated slice of a node an instruction
// targets.
type Part uint8

const (
	PartPreamble  Part = iota // Node's opening structural text
	PartText                  // Node's own content
	PartPostamble             // Node's closing structural text
	PartSubtree               // The node's full rendered subtree
	PartChildren              // All children subtrees, no own markers
	PartLiteral               // Literal text carried on the instruction
)

// String returns the string representation of the Part.
func (p Part) String() string {
	switch p {
	case PartPreamble:
		return "preamble"
	case PartText:
		return "text"
	case PartPostamble:
		return "postamble"
	case PartSubtree:
		return "subtree"
	case PartChildren:
		return "children"
	case PartLiteral:
		return "literal"
	default:
		return "unknown"
	}
}

// OpKind is the instruction discriminator.
type OpKind uint8

const (
	OpDelete        OpKind = iota // Remove a range (pre-edit coordinates)
	OpInsert                      // Insert rendered content (post-edit coordinates)
	OpSetAttributes               // Restyle a range without moving text
)

// String returns the string representation of the OpKind.
func (op OpKind) String() string {
	switch op {
	case OpDelete:
		return "Delete"
	case OpInsert:
		return "Insert"
	case OpSetAttributes:
		return "SetAttributes"
	default:
		return "Unknown"
	}
}

// Instruction is one buffer mutation produced by a reconciliation
// plan. Delete ranges are expressed in pre-edit coordinates; insert
// locations and attribute ranges in post-edit coordinates. Insert
// content is resolved to styled text only at apply time.
type Instruction struct {
	Op       OpKind
	Range    textbuf.Range   // OpDelete / OpSetAttributes target
	Location int             // OpInsert target
	Key      doctree.NodeKey // Node whose content is rendered / restyled
	Part     Part            // Which slice of the node to render
	Literal  string          // PartLiteral payload
	Attrs    textbuf.Attributes
}

// String implements fmt.Stringer; used in divergence reports and logs.
func (in Instruction) String() string {
	switch in.Op {
	case OpDelete:
		return fmt.Sprintf("delete %s", in.Range)
	case OpInsert:
		if in.Part == PartLiteral {
			return fmt.Sprintf("insert @%d literal %q", in.Location, in.Literal)
		}
		return fmt.Sprintf("insert @%d %s/%s", in.Location, in.Key, in.Part)
	case OpSetAttributes:
		return fmt.Sprintf("attrs %s %s", in.Range, in.Key)
	default:
		return "unknown"
	}
}
