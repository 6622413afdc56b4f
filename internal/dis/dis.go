// Package dis implements a systematic SN8 disassembler: every word of
// the flash image is decoded, data words that do not form a valid
// instruction are emitted as DW directives.
package dis

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"github.com/retroenv/retrogolib/set"

	"github.com/vpelletier/dissn8/internal/chip"
	"github.com/vpelletier/dissn8/internal/opcode"
)

// commentTab is the tabstop listing comments start at.
const commentTab = 5

// Disasm disassembles SN8 instruction words, resolving register and
// bit operand addresses to their chip definition names.
type Disasm struct {
	def *chip.Definition
}

// New returns a disassembler using the given chip definition.
func New(def *chip.Definition) *Disasm {
	return &Disasm{def: def}
}

// Words converts a little-endian binary flash image to words.
func Words(image []byte) ([]uint16, error) {
	if len(image)%2 != 0 {
		return nil, fmt.Errorf("odd image length %d", len(image))
	}
	words := make([]uint16, len(image)/2)
	for i := range words {
		words[i] = binary.LittleEndian.Uint16(image[i*2:])
	}
	return words, nil
}

// Instruction returns the source form of the instruction word at the
// given address.
func (d *Disasm) Instruction(address, ins uint16) string {
	return d.instruction(address, ins, nil)
}

func (d *Disasm) instruction(address, ins uint16, labels map[uint16]string) string {
	op, ok := opcode.Decode(ins)
	if !ok {
		return fmt.Sprintf("DW\t0x%04x\t; ILLEGAL OPCODE", ins)
	}
	info := op.Info
	if !info.HasOperand() {
		return info.Name
	}

	symbol := d.operandSymbol(address, op, labels)
	var caption []string
	for _, kind := range []opcode.Operand{info.Dst, info.Src} {
		switch kind {
		case opcode.OperandNone:
		case opcode.OperandA:
			caption = append(caption, "A")
		case opcode.OperandRegister:
			caption = append(caption, info.Register)
		default:
			caption = append(caption, symbol)
		}
	}
	return info.Name + "\t" + strings.Join(caption, ", ")
}

func (d *Disasm) operandSymbol(address uint16, op opcode.Opcode, labels map[uint16]string) string {
	info := op.Info
	switch info.Space {
	case opcode.SpaceROM:
		if info.Flow == opcode.FlowJump && op.Operand == address+1 {
			return "$+1"
		}
		if name, ok := labels[op.Operand]; ok {
			return name
		}
		return fmt.Sprintf("0x%04x", op.Operand)

	case opcode.SpaceImmediate:
		return fmt.Sprintf("#0x%02x", op.Operand)
	}

	if info.Dst == opcode.OperandBitAddress {
		ref := chip.BitRef{Addr: op.Operand, Bit: op.Bit}
		if name, ok := d.def.BitName(ref); ok {
			return name
		}
		if name, ok := d.def.RegisterName(op.Operand); ok {
			return fmt.Sprintf("%s.%d", name, op.Bit)
		}
		return fmt.Sprintf("0x%02x.%d", op.Operand, op.Bit)
	}
	if name, ok := d.def.RegisterName(op.Operand); ok {
		return name
	}
	return fmt.Sprintf("0x%02x", op.Operand)
}

// labels names every jump and call destination inside the image. Call
// targets are functions and win over plain jump labels.
func (d *Disasm) labels(words []uint16) map[uint16]string {
	jumps := set.New[uint16]()
	calls := set.New[uint16]()
	for address, ins := range words {
		op, ok := opcode.Decode(ins)
		if !ok || op.Info.Space != opcode.SpaceROM ||
			int(op.Operand) >= len(words) {
			continue
		}
		switch op.Info.Flow {
		case opcode.FlowJump:
			if op.Operand != uint16(address)+1 {
				jumps.Add(op.Operand)
			}
		case opcode.FlowCall:
			calls.Add(op.Operand)
		}
	}
	labels := make(map[uint16]string, len(jumps)+len(calls))
	for address := range calls {
		labels[address] = fmt.Sprintf("func_%04x", address)
	}
	for address := range jumps {
		if _, ok := labels[address]; !ok {
			labels[address] = fmt.Sprintf("_label_%04x", address)
		}
	}
	return labels
}

// Listing writes an assembly listing of the whole word image. The
// listing assembles back to the same image.
func (d *Disasm) Listing(w io.Writer, words []uint16) error {
	bw := bufio.NewWriter(w)
	labels := d.labels(words)
	fmt.Fprintf(bw, "CHIP %s\n.CODE\nORG 0x0000\n", d.def.Name)
	for address, ins := range words {
		if address&0xf == 0 {
			fmt.Fprintln(bw, tabstop("", commentTab, fmt.Sprintf("; 0x%04x", address)))
		}
		if name, ok := labels[uint16(address)]; ok {
			fmt.Fprintln(bw, name+":")
		}
		fmt.Fprintln(bw, "\t"+d.instruction(uint16(address), ins, labels))
	}
	fmt.Fprintln(bw, "ENDP")
	return bw.Flush()
}

// tabstop pads prefix with tabs so that suffix starts at the given
// tabstop position.
func tabstop(prefix string, position int, suffix string) string {
	const tabwidth = 8
	width := 0
	for _, c := range prefix {
		if c == '\t' {
			width += tabwidth - width%tabwidth
		} else {
			width++
		}
	}
	count := position - width/tabwidth
	if count <= 0 {
		return prefix + " " + suffix
	}
	return prefix + strings.Repeat("\t", count) + suffix
}
