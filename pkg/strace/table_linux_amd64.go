package strace

import "golang.org/x/sys/unix"

const (
	openAccMode     = unix.O_ACCMODE
	openCreateFlags = unix.O_CREAT | unix.O_TMPFILE
)

var accessModeNames = map[uint64]string{
	unix.O_RDONLY: "O_RDONLY",
	unix.O_WRONLY: "O_WRONLY",
	unix.O_RDWR:   "O_RDWR",
}

// Composite flags come before the flags they contain.
var openFlagNames = []flagName{
	{unix.O_TMPFILE, "O_TMPFILE"},
	{unix.O_SYNC, "O_SYNC"},
	{unix.O_CREAT, "O_CREAT"},
	{unix.O_EXCL, "O_EXCL"},
	{unix.O_NOCTTY, "O_NOCTTY"},
	{unix.O_TRUNC, "O_TRUNC"},
	{unix.O_APPEND, "O_APPEND"},
	{unix.O_NONBLOCK, "O_NONBLOCK"},
	{unix.O_DSYNC, "O_DSYNC"},
	{unix.O_ASYNC, "O_ASYNC"},
	{unix.O_DIRECT, "O_DIRECT"},
	{0x8000, "O_LARGEFILE"},
	{unix.O_DIRECTORY, "O_DIRECTORY"},
	{unix.O_NOFOLLOW, "O_NOFOLLOW"},
	{unix.O_NOATIME, "O_NOATIME"},
	{unix.O_CLOEXEC, "O_CLOEXEC"},
	{unix.O_PATH, "O_PATH"},
}

var protNames = []flagName{
	{unix.PROT_READ, "PROT_READ"},
	{unix.PROT_WRITE, "PROT_WRITE"},
	{unix.PROT_EXEC, "PROT_EXEC"},
	{unix.PROT_GROWSDOWN, "PROT_GROWSDOWN"},
	{unix.PROT_GROWSUP, "PROT_GROWSUP"},
}

var mmapFlagNames = []flagName{
	{unix.MAP_SHARED_VALIDATE, "MAP_SHARED_VALIDATE"},
	{unix.MAP_SHARED, "MAP_SHARED"},
	{unix.MAP_PRIVATE, "MAP_PRIVATE"},
	{unix.MAP_FIXED, "MAP_FIXED"},
	{unix.MAP_ANONYMOUS, "MAP_ANONYMOUS"},
	{unix.MAP_32BIT, "MAP_32BIT"},
	{unix.MAP_GROWSDOWN, "MAP_GROWSDOWN"},
	{unix.MAP_DENYWRITE, "MAP_DENYWRITE"},
	{unix.MAP_EXECUTABLE, "MAP_EXECUTABLE"},
	{unix.MAP_LOCKED, "MAP_LOCKED"},
	{unix.MAP_NORESERVE, "MAP_NORESERVE"},
	{unix.MAP_POPULATE, "MAP_POPULATE"},
	{unix.MAP_NONBLOCK, "MAP_NONBLOCK"},
	{unix.MAP_STACK, "MAP_STACK"},
	{unix.MAP_HUGETLB, "MAP_HUGETLB"},
	{unix.MAP_SYNC, "MAP_SYNC"},
	{unix.MAP_FIXED_NOREPLACE, "MAP_FIXED_NOREPLACE"},
}

var clockNames = map[uint64]string{
	unix.CLOCK_REALTIME:           "CLOCK_REALTIME",
	unix.CLOCK_MONOTONIC:          "CLOCK_MONOTONIC",
	unix.CLOCK_PROCESS_CPUTIME_ID: "CLOCK_PROCESS_CPUTIME_ID",
	unix.CLOCK_THREAD_CPUTIME_ID:  "CLOCK_THREAD_CPUTIME_ID",
	unix.CLOCK_MONOTONIC_RAW:      "CLOCK_MONOTONIC_RAW",
	unix.CLOCK_REALTIME_COARSE:    "CLOCK_REALTIME_COARSE",
	unix.CLOCK_MONOTONIC_COARSE:   "CLOCK_MONOTONIC_COARSE",
	unix.CLOCK_BOOTTIME:           "CLOCK_BOOTTIME",
	unix.CLOCK_TAI:                "CLOCK_TAI",
}

var whenceNames = map[uint64]string{
	unix.SEEK_SET:  "SEEK_SET",
	unix.SEEK_CUR:  "SEEK_CUR",
	unix.SEEK_END:  "SEEK_END",
	unix.SEEK_DATA: "SEEK_DATA",
	unix.SEEK_HOLE: "SEEK_HOLE",
}

// signatures describes the arguments of the syscalls that are decoded.
// Other syscalls print their six raw arguments.
var signatures = map[uint64]signature{
	unix.SYS_READ:            sig(retInt, aFd, aBufOut, aUint),
	unix.SYS_WRITE:           sig(retInt, aFd, bufIn(2), aUint),
	unix.SYS_OPEN:            sig(retInt, aPath, aOpenFlags, openMode(1)),
	unix.SYS_CLOSE:           sig(retInt, aFd),
	unix.SYS_STAT:            sig(retInt, aPath, aPtr),
	unix.SYS_FSTAT:           sig(retInt, aFd, aPtr),
	unix.SYS_LSTAT:           sig(retInt, aPath, aPtr),
	unix.SYS_POLL:            sig(retInt, aPtr, aUint, aInt),
	unix.SYS_LSEEK:           sig(retInt, aFd, aLong, aWhence),
	unix.SYS_MMAP:            sig(retHex, aPtr, aUint, aProt, aMmapFlags, aFd, aHex),
	unix.SYS_MPROTECT:        sig(retInt, aPtr, aUint, aProt),
	unix.SYS_MUNMAP:          sig(retInt, aPtr, aUint),
	unix.SYS_BRK:             sig(retHex, aPtr),
	unix.SYS_RT_SIGACTION:    sig(retInt, aSignal, aPtr, aPtr, aUint),
	unix.SYS_RT_SIGPROCMASK:  sig(retInt, aInt, aPtr, aPtr, aUint),
	unix.SYS_RT_SIGRETURN:    sig(retInt),
	unix.SYS_IOCTL:           sig(retInt, aFd, aHex, aHex),
	unix.SYS_PREAD64:         sig(retInt, aFd, aBufOut, aUint, aLong),
	unix.SYS_PWRITE64:        sig(retInt, aFd, bufIn(2), aUint, aLong),
	unix.SYS_READV:           sig(retInt, aFd, aPtr, aInt),
	unix.SYS_WRITEV:          sig(retInt, aFd, aPtr, aInt),
	unix.SYS_ACCESS:          sig(retInt, aPath, aInt),
	unix.SYS_PIPE:            sig(retInt, aPtr),
	unix.SYS_SCHED_YIELD:     sig(retInt),
	unix.SYS_MREMAP:          sig(retHex, aPtr, aUint, aUint, aHex, aPtr),
	unix.SYS_MADVISE:         sig(retInt, aPtr, aUint, aInt),
	unix.SYS_DUP:             sig(retInt, aFd),
	unix.SYS_DUP2:            sig(retInt, aFd, aFd),
	unix.SYS_NANOSLEEP:       sig(retInt, aTimespec, aPtr),
	unix.SYS_GETPID:          sig(retInt),
	unix.SYS_SOCKET:          sig(retInt, aInt, aInt, aInt),
	unix.SYS_CONNECT:         sig(retInt, aFd, aPtr, aInt),
	unix.SYS_ACCEPT:          sig(retInt, aFd, aPtr, aPtr),
	unix.SYS_SENDTO:          sig(retInt, aFd, bufIn(2), aUint, aHex, aPtr, aInt),
	unix.SYS_RECVFROM:        sig(retInt, aFd, aBufOut, aUint, aHex, aPtr, aPtr),
	unix.SYS_BIND:            sig(retInt, aFd, aPtr, aInt),
	unix.SYS_LISTEN:          sig(retInt, aFd, aInt),
	unix.SYS_CLONE:           sig(retInt, aHex, aPtr, aPtr, aPtr, aHex),
	unix.SYS_FORK:            sig(retInt),
	unix.SYS_VFORK:           sig(retInt),
	unix.SYS_EXECVE:          sig(retInt, aPath, aPtr, aPtr),
	unix.SYS_EXIT:            sig(retNone, aInt),
	unix.SYS_WAIT4:           sig(retInt, aInt, aPtr, aHex, aPtr),
	unix.SYS_KILL:            sig(retInt, aInt, aSignal),
	unix.SYS_UNAME:           sig(retInt, aPtr),
	unix.SYS_FCNTL:           sig(retInt, aFd, aInt, aHex),
	unix.SYS_FSYNC:           sig(retInt, aFd),
	unix.SYS_FTRUNCATE:       sig(retInt, aFd, aLong),
	unix.SYS_GETDENTS64:      sig(retInt, aFd, aPtr, aUint),
	unix.SYS_GETCWD:          sig(retInt, aPathOut, aUint),
	unix.SYS_CHDIR:           sig(retInt, aPath),
	unix.SYS_RENAME:          sig(retInt, aPath, aPath),
	unix.SYS_MKDIR:           sig(retInt, aPath, aMode),
	unix.SYS_RMDIR:           sig(retInt, aPath),
	unix.SYS_UNLINK:          sig(retInt, aPath),
	unix.SYS_READLINK:        sig(retInt, aPath, aBufOut, aUint),
	unix.SYS_CHMOD:           sig(retInt, aPath, aMode),
	unix.SYS_UMASK:           sig(retInt, aMode),
	unix.SYS_SYSINFO:         sig(retInt, aPtr),
	unix.SYS_GETUID:          sig(retInt),
	unix.SYS_GETGID:          sig(retInt),
	unix.SYS_GETEUID:         sig(retInt),
	unix.SYS_GETEGID:         sig(retInt),
	unix.SYS_GETPPID:         sig(retInt),
	unix.SYS_ARCH_PRCTL:      sig(retInt, aHex, aHex),
	unix.SYS_GETTID:          sig(retInt),
	unix.SYS_FUTEX:           sig(retInt, aPtr, aInt, aInt, aPtr, aPtr, aInt),
	unix.SYS_SET_TID_ADDRESS: sig(retInt, aPtr),
	unix.SYS_CLOCK_GETTIME:   sig(retInt, aClock, aPtr),
	unix.SYS_CLOCK_NANOSLEEP: sig(retInt, aClock, aInt, aTimespec, aPtr),
	unix.SYS_EXIT_GROUP:      sig(retNone, aInt),
	unix.SYS_TGKILL:          sig(retInt, aInt, aInt, aSignal),
	unix.SYS_OPENAT:          sig(retInt, aDirFd, aPath, aOpenFlags, openMode(2)),
	unix.SYS_MKDIRAT:         sig(retInt, aDirFd, aPath, aMode),
	unix.SYS_NEWFSTATAT:      sig(retInt, aDirFd, aPath, aPtr, aHex),
	unix.SYS_UNLINKAT:        sig(retInt, aDirFd, aPath, aHex),
	unix.SYS_READLINKAT:      sig(retInt, aDirFd, aPath, aBufOut, aUint),
	unix.SYS_FACCESSAT:       sig(retInt, aDirFd, aPath, aInt),
	unix.SYS_SET_ROBUST_LIST: sig(retInt, aPtr, aUint),
	unix.SYS_PIPE2:           sig(retInt, aPtr, aOpenFlags),
	unix.SYS_DUP3:            sig(retInt, aFd, aFd, aOpenFlags),
	unix.SYS_PRLIMIT64:       sig(retInt, aInt, aInt, aPtr, aPtr),
	unix.SYS_GETRANDOM:       sig(retInt, aBufOut, aUint, aHex),
	unix.SYS_STATX:           sig(retInt, aDirFd, aPath, aHex, aHex, aPtr),
	unix.SYS_RSEQ:            sig(retInt, aPtr, aUint, aInt, aHex),
	unix.SYS_CLOSE_RANGE:     sig(retInt, aUint, aUint, aHex),
}
