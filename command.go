package pcienpu

import "fmt"

// Opcode selects one of the accelerator operations
type Opcode uint8

// opcode values written to register 0 of the window
const (
	OpLoadModel    Opcode = 0x01
	OpLoadInput    Opcode = 0x02
	OpRunInference Opcode = 0x03
	OpGetResult    Opcode = 0x04
)

// register layout of the window
const (
	// RegOpcode holds the opcode widened to 32 bits
	RegOpcode = 0
	// RegAddress holds the target address of the command
	RegAddress = 1
	// RegImmediate holds the immediate data of the command
	RegImmediate = 2
	// RegLength holds the word count of the bulk transfer following the header
	RegLength = 3
	// RegPayload is the first register of the bulk transfer area
	RegPayload = 4
)

// DefaultInputAddress is the accelerator offset input tensors are loaded to
const DefaultInputAddress = 0x00100000

// String returns a readable name of the opcode
func (o Opcode) String() string {
	switch o {
	case OpLoadModel:
		return "LOAD_MODEL"
	case OpLoadInput:
		return "LOAD_INPUT"
	case OpRunInference:
		return "RUN_INFERENCE"
	case OpGetResult:
		return "GET_RESULT"
	default:
		return fmt.Sprintf("OPCODE(0x%02x)", uint8(o))
	}
}

// CommandHeader is the four word header written ahead of every operation
type CommandHeader struct {
	Opcode    Opcode
	Address   uint32
	Immediate uint32
	// Length is the word count of the bulk transfer following the header
	Length uint32
}

// Words returns the header in register order
func (h CommandHeader) Words() [RegPayload]uint32 {
	return [RegPayload]uint32{
		RegOpcode:    uint32(h.Opcode),
		RegAddress:   h.Address,
		RegImmediate: h.Immediate,
		RegLength:    h.Length,
	}
}

// String returns the header formatted as a string
func (h CommandHeader) String() string {
	return fmt.Sprintf("op=%s, addr=0x%08x, imm=0x%08x, len=%d",
		h.Opcode, h.Address, h.Immediate, h.Length)
}
