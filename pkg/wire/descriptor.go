package wire

import "fmt"

//go:generate go run ../../cmd/lrmsggen -schema schema.yaml -out descriptors_gen.go

// CommandKey identifies a command resource independent of opcode.
type CommandKey struct {
	Class uint16
	ID    uint16
}

// String returns "Class.Command" for known commands, hex otherwise.
func (k CommandKey) String() string {
	if name := CommandName(k.Class, k.ID); name != "" {
		return name
	}
	return fmt.Sprintf("0x%04x/%d", k.Class, k.ID)
}

// Descriptor identifies a handler slot.
type Descriptor struct {
	Class    uint16
	ID       uint16
	Opcode   Opcode
	Version  uint8
	Priority uint8
}

// Key returns the (class, id) part of the descriptor.
func (d Descriptor) Key() CommandKey {
	return CommandKey{Class: d.Class, ID: d.ID}
}

// String returns a readable descriptor.
func (d Descriptor) String() string {
	return fmt.Sprintf("%s:%s", d.Key(), d.Opcode)
}

// Validate checks the descriptor fits the header encoding.
func (d Descriptor) Validate() error {
	if d.ID > MaxID {
		return fmt.Errorf("%w: id %d exceeds %d", ErrFormat, d.ID, MaxID)
	}
	if !d.Opcode.IsValid() {
		return fmt.Errorf("%w: opcode %d", ErrFormat, d.Opcode)
	}
	return nil
}
