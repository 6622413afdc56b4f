// Package asm implements an SN8 assembler producing flash images for
// the simulator and for flashing tools.
package asm

import (
	"encoding/binary"
	"fmt"
	"sort"
	"strings"

	"github.com/vpelletier/dissn8/internal/chip"
	"github.com/vpelletier/dissn8/internal/opcode"
)

const (
	romWords       = 0x3000
	jumpTargetMask = 0x3fff

	codeOptionsBegin = "//{{SONIX_CODE_OPTION"
	codeOptionsEnd   = "//}}SONIX_CODE_OPTION"
)

type operandKind uint8

const (
	operandNone operandKind = iota
	operandA
	operandAddress
	operandBit
	operandImmediate
	operandUndefined // unresolved identifier, fixed up by a later label
)

type operand struct {
	kind  operandKind
	value uint16
	bit   uint8
	name  string
}

// Assembler translates SN8 assembly source into a flash word image.
type Assembler struct {
	def *chip.Definition

	rom     [romWords]uint16
	defined [romWords]bool
	address uint16

	identifiers map[string]operand
	fixups      map[string][]uint16
	optionUsed  map[uint16]uint16

	inOptions bool
	line      int
}

// New returns an empty assembler. The chip type is selected by the
// CHIP directive in the source.
func New() *Assembler {
	return &Assembler{
		identifiers: map[string]operand{},
		fixups:      map[string][]uint16{},
		optionUsed:  map[uint16]uint16{},
	}
}

// Assemble translates source into a little-endian binary flash image.
func Assemble(source string) ([]byte, error) {
	a := New()
	if err := a.Parse(source); err != nil {
		return nil, err
	}
	return a.Image()
}

// Parse assembles source into the rom image, which can be retrieved
// with Image. Parse can be called multiple times to chain sources.
func (a *Assembler) Parse(source string) error {
	for _, line := range strings.Split(source, "\n") {
		a.line++
		if err := a.parseLine(line); err != nil {
			return fmt.Errorf("line %d: %w", a.line, err)
		}
	}
	return nil
}

// Image finalizes the assembly and returns the binary flash image.
func (a *Assembler) Image() ([]byte, error) {
	if a.inOptions {
		return nil, fmt.Errorf("unterminated code option block")
	}
	if len(a.fixups) > 0 {
		names := make([]string, 0, len(a.fixups))
		for name := range a.fixups {
			names = append(names, name)
		}
		sort.Strings(names)
		return nil, fmt.Errorf("undefined labels: %s", strings.Join(names, ", "))
	}

	image := make([]byte, romWords*2)
	for i, word := range a.rom {
		binary.LittleEndian.PutUint16(image[i*2:], word)
	}
	return image, nil
}

func (a *Assembler) parseLine(line string) error {
	switch strings.TrimSpace(line) {
	case codeOptionsBegin:
		a.inOptions = true
		return nil
	case codeOptionsEnd:
		a.inOptions = false
		return nil
	}

	tokens, err := scanLine(line)
	if err != nil {
		return err
	}

	// Leading labels.
	for len(tokens) >= 2 && tokens[0].kind == tokenIdent &&
		tokens[1].kind == tokenColon && !isDirective(tokens[0].text) {
		if err := a.defineLabel(tokens[0].text); err != nil {
			return err
		}
		tokens = tokens[2:]
	}
	if len(tokens) == 0 {
		return nil
	}

	if tokens[0].kind != tokenIdent {
		return fmt.Errorf("unexpected token at line start")
	}
	name := tokens[0].text

	// Declarations have the shape "identifier EQU value".
	if len(tokens) >= 2 && tokens[1].kind == tokenIdent && tokens[1].text == "EQU" {
		return a.parseEqu(name, tokens[2:])
	}

	switch name {
	case "CHIP":
		return a.parseChip(tokens[1:])
	case ".CODE", ".DATA", "ENDP":
		return expectEnd(tokens[1:])
	case ".Code_Option":
		return a.parseCodeOption(tokens[1:])
	case "ORG":
		return a.parseOrg(tokens[1:])
	case "DW":
		return a.parseData(tokens[1:], a.writeWord)
	case "DB":
		return a.parseData(tokens[1:], a.writeBytes)
	}
	return a.parseInstruction(name, tokens[1:])
}

func isDirective(name string) bool {
	switch name {
	case "CHIP", "ORG", "DW", "DB", "EQU", "ENDP":
		return true
	}
	return false
}

func expectEnd(tokens []token) error {
	if len(tokens) != 0 {
		return fmt.Errorf("trailing tokens")
	}
	return nil
}

func (a *Assembler) parseChip(tokens []token) error {
	if len(tokens) != 1 || tokens[0].kind != tokenIdent {
		return fmt.Errorf("CHIP expects a chip name")
	}
	if a.def != nil {
		return fmt.Errorf("redefining chip type")
	}
	def, err := chip.SN8F2288()
	if err != nil {
		return err
	}
	if !strings.EqualFold(def.Name, tokens[0].text) {
		return fmt.Errorf("unsupported chip %s", tokens[0].text)
	}
	a.def = def
	return nil
}

func (a *Assembler) parseCodeOption(tokens []token) error {
	if !a.inOptions {
		return fmt.Errorf(".Code_Option outside option block")
	}
	if a.def == nil {
		return fmt.Errorf("no chip selected")
	}
	if len(tokens) != 2 || tokens[0].kind != tokenIdent ||
		(tokens[1].kind != tokenString && tokens[1].kind != tokenIdent) {
		return fmt.Errorf("malformed code option")
	}

	option, ok := a.def.CodeOptionField(tokens[0].text)
	if !ok {
		return fmt.Errorf("unknown code option %s", tokens[0].text)
	}
	value, ok := option.Values[tokens[1].text]
	if !ok {
		return fmt.Errorf("unknown value %q for code option %s", tokens[1].text, tokens[0].text)
	}
	if a.optionUsed[option.Addr]&option.Mask != 0 {
		return fmt.Errorf("duplicate code option declaration for %s", tokens[0].text)
	}
	a.optionUsed[option.Addr] |= option.Mask
	a.rom[option.Addr] |= value
	a.defined[option.Addr] = true
	return nil
}

func (a *Assembler) parseOrg(tokens []token) error {
	if len(tokens) != 1 {
		return fmt.Errorf("ORG expects one operand")
	}
	switch tokens[0].kind {
	case tokenNumber:
		if tokens[0].value >= romWords {
			return fmt.Errorf("ORG address out of bounds: %#x", tokens[0].value)
		}
		a.address = uint16(tokens[0].value)
		return nil

	case tokenIdent:
		op, ok := a.lookup(tokens[0].text)
		if !ok || op.kind != operandAddress {
			return fmt.Errorf("bad identifier for ORG: %s", tokens[0].text)
		}
		a.address = op.value
		return nil
	}
	return fmt.Errorf("bad ORG operand")
}

func (a *Assembler) parseEqu(name string, tokens []token) error {
	op, rest, err := a.parseOperand(tokens)
	if err != nil {
		return err
	}
	if err := expectEnd(rest); err != nil {
		return err
	}
	switch op.kind {
	case operandAddress, operandBit:
	default:
		return fmt.Errorf("bad EQU value for %s", name)
	}
	if existing, ok := a.lookup(name); ok && existing != op {
		return fmt.Errorf("redefining identifier %s", name)
	}
	a.identifiers[name] = op
	return nil
}

func (a *Assembler) parseData(tokens []token, write func([]uint16) error) error {
	var items []uint16
	expectComma := false
	for _, tok := range tokens {
		if expectComma {
			if tok.kind != tokenComma {
				return fmt.Errorf("expected comma in data list")
			}
			expectComma = false
			continue
		}
		switch tok.kind {
		case tokenNumber:
			items = append(items, uint16(tok.value))

		case tokenString:
			for _, c := range []byte(tok.text) {
				items = append(items, uint16(c))
			}

		case tokenIdent:
			op, ok := a.lookup(tok.text)
			if !ok {
				return fmt.Errorf("undefined identifier: %s", tok.text)
			}
			if op.kind != operandAddress {
				return fmt.Errorf("bad data item %s", tok.text)
			}
			items = append(items, op.value)

		default:
			return fmt.Errorf("bad data item")
		}
		expectComma = true
	}
	if len(items) == 0 {
		return fmt.Errorf("empty data list")
	}
	return write(items)
}

func (a *Assembler) writeWord(items []uint16) error {
	for _, item := range items {
		if err := a.write(item); err != nil {
			return err
		}
	}
	return nil
}

// writeBytes packs byte items into words, low byte first.
func (a *Assembler) writeBytes(items []uint16) error {
	for i := 0; i < len(items); i += 2 {
		word := items[i]
		if word > 0xff {
			return fmt.Errorf("byte value out of bounds: %#x", word)
		}
		if i+1 < len(items) {
			high := items[i+1]
			if high > 0xff {
				return fmt.Errorf("byte value out of bounds: %#x", high)
			}
			word |= high << 8
		}
		if err := a.write(word); err != nil {
			return err
		}
	}
	return nil
}

func (a *Assembler) parseInstruction(name string, tokens []token) error {
	keys, ok := instructionKeys[name]
	if !ok {
		return fmt.Errorf("no such instruction: %s", name)
	}

	dst := operand{kind: operandNone}
	src := operand{kind: operandNone}
	if len(tokens) > 0 {
		var err error
		dst, tokens, err = a.parseOperand(tokens)
		if err != nil {
			return err
		}
		if len(tokens) > 0 {
			if tokens[0].kind != tokenComma {
				return fmt.Errorf("expected comma between operands")
			}
			src, tokens, err = a.parseOperand(tokens[1:])
			if err != nil {
				return err
			}
		}
	}
	if err := expectEnd(tokens); err != nil {
		return err
	}
	return a.writeInstruction(name, keys, dst, src)
}

func (a *Assembler) parseOperand(tokens []token) (operand, []token, error) {
	if len(tokens) == 0 {
		return operand{}, nil, fmt.Errorf("missing operand")
	}
	switch tok := tokens[0]; tok.kind {
	case tokenHash:
		op, rest, err := a.parseOperand(tokens[1:])
		if err != nil {
			return operand{}, nil, err
		}
		switch op.kind {
		case operandAddress:
			return operand{kind: operandImmediate, value: op.value}, rest, nil
		case operandUndefined:
			return operand{}, nil, fmt.Errorf("undefined identifier: %s", op.name)
		}
		return operand{}, nil, fmt.Errorf("bad immediate operand")

	case tokenNumber:
		return a.parseAddressSuffix(
			operand{kind: operandAddress, value: uint16(tok.value)},
			tokens[1:],
		)

	case tokenRelative:
		address := int(a.address) + tok.value
		if address < 0 || address >= romWords {
			return operand{}, nil, fmt.Errorf("relative address out of bounds")
		}
		return operand{kind: operandAddress, value: uint16(address)}, tokens[1:], nil

	case tokenIdent:
		if tok.text == "A" {
			return operand{kind: operandA}, tokens[1:], nil
		}
		op, ok := a.lookup(tok.text)
		if !ok {
			op = operand{kind: operandUndefined, name: tok.text}
		}
		return a.parseAddressSuffix(op, tokens[1:])
	}
	return operand{}, nil, fmt.Errorf("bad operand")
}

// parseAddressSuffix applies a trailing .N bit selector, if present.
func (a *Assembler) parseAddressSuffix(op operand, rest []token) (operand, []token, error) {
	if len(rest) == 0 || rest[0].kind != tokenBit {
		return op, rest, nil
	}
	switch op.kind {
	case operandAddress:
		return operand{
			kind:  operandBit,
			value: op.value,
			bit:   uint8(rest[0].value),
		}, rest[1:], nil

	case operandBit:
		return operand{}, nil, fmt.Errorf("bit selector applied to a bit address")
	}
	return operand{}, nil, fmt.Errorf("bit selector applied to %s", op.name)
}

// lookup resolves an identifier, chip register names first.
func (a *Assembler) lookup(name string) (operand, bool) {
	if a.def != nil {
		if addr, ok := a.def.Address(name); ok {
			return operand{kind: operandAddress, value: addr}, true
		}
		if ref, ok := a.def.Bit(name); ok {
			return operand{kind: operandBit, value: ref.Addr, bit: ref.Bit}, true
		}
	}
	op, ok := a.identifiers[name]
	return op, ok
}

func (a *Assembler) defineLabel(name string) error {
	label := operand{kind: operandAddress, value: a.address}
	if existing, ok := a.lookup(name); ok && existing != label {
		return fmt.Errorf("redefining label %s", name)
	}
	a.identifiers[name] = label
	for _, referrer := range a.fixups[name] {
		a.rom[referrer] |= a.address & jumpTargetMask
	}
	delete(a.fixups, name)
	return nil
}

func (a *Assembler) writeInstruction(name string, keys []uint8, dst, src operand) error {
	for _, key := range keys {
		info := opcode.Opcodes[key]

		fixupName := ""
		if info.Space == opcode.SpaceROM && dst.kind == operandUndefined {
			// JMP and CALL to a label defined further down: emit a
			// placeholder and patch the operand when the label appears.
			fixupName = dst.name
			dst = operand{kind: operandAddress}
		}
		if info.Space == opcode.SpaceRAM || info.Space == opcode.SpaceZero {
			for _, op := range []operand{dst, src} {
				if op.kind == operandUndefined {
					return fmt.Errorf("undefined identifier: %s", op.name)
				}
			}
		}
		if !a.operandMatches(info.Dst, info.Register, dst) ||
			!a.operandMatches(info.Src, info.Register, src) {
			continue
		}

		word := uint16(key) << 8
		if op, ok := encodableOperand(info, dst, src); ok {
			if op.kind == operandBit {
				word |= uint16(op.bit) << 8
			}
			masked := op.value & info.Mask
			if masked != op.value {
				return fmt.Errorf("operand too large for %s: %#x", name, op.value)
			}
			word |= masked
		}
		if fixupName != "" {
			a.fixups[fixupName] = append(a.fixups[fixupName], a.address)
		}
		return a.write(word)
	}
	return fmt.Errorf("no opcode suitable for %s with these operands", name)
}

func (a *Assembler) operandMatches(want opcode.Operand, register string, op operand) bool {
	switch want {
	case opcode.OperandNone:
		return op.kind == operandNone
	case opcode.OperandA:
		return op.kind == operandA
	case opcode.OperandAddress:
		return op.kind == operandAddress
	case opcode.OperandBitAddress:
		return op.kind == operandBit
	case opcode.OperandImmediate:
		return op.kind == operandImmediate
	case opcode.OperandRegister:
		if a.def == nil {
			return false
		}
		addr, ok := a.def.Address(register)
		return ok && op.kind == operandAddress && op.value == addr
	}
	return false
}

// encodableOperand returns the operand carrying the encoded value, if
// the instruction has one.
func encodableOperand(info opcode.Info, dst, src operand) (operand, bool) {
	switch info.Dst {
	case opcode.OperandAddress, opcode.OperandBitAddress, opcode.OperandImmediate:
		return dst, true
	}
	switch info.Src {
	case opcode.OperandAddress, opcode.OperandBitAddress, opcode.OperandImmediate:
		return src, true
	}
	return operand{}, false
}

func (a *Assembler) write(word uint16) error {
	if a.address >= romWords {
		return fmt.Errorf("program address out of bounds: %#x", a.address)
	}
	if a.defined[a.address] {
		return fmt.Errorf("redefining program address %#x", a.address)
	}
	a.rom[a.address] = word
	a.defined[a.address] = true
	a.address++
	return nil
}

// instructionKeys maps mnemonics to candidate opcodes. Spaces that can
// resolve labels later come first so forward references pick them.
var instructionKeys = buildInstructionKeys()

func buildInstructionKeys() map[string][]uint8 {
	order := map[opcode.Space]int{
		opcode.SpaceROM:       0,
		opcode.SpaceImmediate: 1,
		opcode.SpaceZero:      2,
		opcode.SpaceRAM:       3,
		opcode.SpaceNone:      4,
	}
	keys := make([]uint8, 0, len(opcode.Opcodes))
	for key := range opcode.Opcodes {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		oi := order[opcode.Opcodes[keys[i]].Space]
		oj := order[opcode.Opcodes[keys[j]].Space]
		if oi != oj {
			return oi < oj
		}
		return keys[i] < keys[j]
	})

	byName := map[string][]uint8{}
	for _, key := range keys {
		name := opcode.Opcodes[key].Name
		byName[name] = append(byName[name], key)
	}
	return byName
}
