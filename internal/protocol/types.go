package protocol

import "fmt"

// Control bytes exchanged on the wire. Each is a single-byte unit.
const (
	STX byte = 2
	ETX byte = 3
	EOT byte = 4
	ENQ byte = 5
	ACK byte = 6
	LF  byte = 10
	CR  byte = 13
	NAK byte = 21
	ETB byte = 23
)

var controlNames = map[byte]string{
	STX: "<STX>",
	ETX: "<ETX>",
	EOT: "<EOT>",
	ENQ: "<ENQ>",
	ACK: "<ACK>",
	LF:  "<LF>",
	CR:  "<CR>",
	NAK: "<NAK>",
	ETB: "<ETB>",
}

// Name renders b for log output.
func Name(b byte) string {
	if name, ok := controlNames[b]; ok {
		return name
	}
	if b >= 0x20 && b < 0x7f {
		return fmt.Sprintf("%q", rune(b))
	}
	return fmt.Sprintf("0x%02X", b)
}

// IsLineEnd reports whether b separates records in an outbound file.
func IsLineEnd(b byte) bool {
	return b == CR || b == LF
}
