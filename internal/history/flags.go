package history

// Flags is the open-time bitmask, named and valued after the
// original history API's HIS_* flags.
type Flags int

const (
	RDONLY Flags = 0
	RDWR   Flags = 1 << 0
	CREAT  Flags = 1 << 1
	ONDISK Flags = 1 << 2
	INCORE Flags = 1 << 3
	MMAP   Flags = 1 << 4
)

// CtlSelector names a Control() operation, after HISCTLG_*/HISCTLS_*.
type CtlSelector int

const (
	CtlGetPath CtlSelector = iota
	CtlSetPath
	CtlSetSyncCount
	CtlSetPairsHint
	CtlSetIgnoreOld
	CtlSetStatInterval
)
