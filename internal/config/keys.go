package config

const (
	// [session]
	SessionSectionName = "session"
	CoresKey           = "cores"
	MemSizeMBKey       = "memsize_mb"
	MaxCyclesKey       = "max_cycles"
	ResetCyclesKey     = "reset_cycles"
	MaxTargetWaitKey   = "max_target_wait"
	ForwardHartIDKey   = "forward_hartid"

	// [debug]
	DebugSectionName = "debug"
	MaxIdleCyclesKey = "max_idle_cycles"
	HartKey          = "hart"

	// [target]
	TargetSectionName = "target"
	MemLatencyKey     = "mem_latency"
	LoadMemKey        = "loadmem"
	LoadAddrKey       = "load_addr"
	ROMKey            = "rom"
	ROMAddrKey        = "rom_addr"

	// [predictor]
	PredictorSectionName = "predictor"
	KindKey              = "kind"
	EntriesKey           = "entries"
)
