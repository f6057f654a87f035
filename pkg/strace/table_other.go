//go:build !linux || !amd64

package strace

const (
	openAccMode     = 0x3
	openCreateFlags = 0x0
)

var (
	syscallNames    = map[uint64]string{}
	signatures      = map[uint64]signature{}
	accessModeNames = map[uint64]string{}
	openFlagNames   []flagName
	protNames       []flagName
	mmapFlagNames   []flagName
	clockNames      = map[uint64]string{}
	whenceNames     = map[uint64]string{}
)
