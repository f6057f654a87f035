package terminal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrettyExamineMemory(t *testing.T) {
	addr := uint64(0x1000)
	memArea := []byte("abcdefghijklmnopqrstuvwxyz")

	tests := []struct {
		name   string
		format byte
		size   int
		want   string
	}{
		{"hex bytes", 'x', 1, "0x1000:   0x61   0x62   0x63   0x64   0x65   0x66   0x67   0x68   \n" +
			"0x1008:   0x69   0x6a   0x6b   0x6c   0x6d   0x6e   0x6f   0x70   \n" +
			"0x1010:   0x71   0x72   0x73   0x74   0x75   0x76   0x77   0x78   \n" +
			"0x1018:   0x79   0x7a   \n"},
		{"octal words", 'o', 2, "0x1000:   0061141   0062143   0063145   0064147   0065151   0066153   0067155   0070157   \n" +
			"0x1010:   0071161   0072163   0073165   0074167   0075171   \n"},
		{"decimal dwords", 'd', 4, "0x1000:   001684234849   001751606885   001818978921   001886350957   001953722993   002021095029   \n"},
		{"binary bytes", 'b', 1, "0x1000:   01100001   01100010   01100011   01100100   \n" +
			"0x1004:   01100101   01100110   01100111   01101000   \n" +
			"0x1008:   01101001   01101010   01101011   01101100   \n" +
			"0x100c:   01101101   01101110   01101111   01110000   \n" +
			"0x1010:   01110001   01110010   01110011   01110100   \n" +
			"0x1014:   01110101   01110110   01110111   01111000   \n" +
			"0x1018:   01111001   01111010   \n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, prettyExamineMemory(addr, memArea, tc.format, tc.size))
		})
	}
}

func TestPrettyExamineMemoryQword(t *testing.T) {
	mem := []byte{0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x80}
	assert.Equal(t, "0x0ffff8:   0x8000000000000001   \n", prettyExamineMemory(0xffff8, mem, 'x', 8))
}

func TestPrettyExamineMemoryBadFormat(t *testing.T) {
	assert.Equal(t, "not supported format \"f\"\n", prettyExamineMemory(0x1000, []byte{1}, 'f', 1))
}
