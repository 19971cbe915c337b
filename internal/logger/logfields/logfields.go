package logfields

const (
	// LogSubsys is the field denoting the subsystem when logging
	LogSubsys = "subsys"

	// Error is the Go error
	Error = "error"

	Path       = "path"
	Section    = "section"
	Offset     = "offset"
	RelocType  = "reloc_type"
	Symbol     = "symbol"
	Value      = "value"
	StackMaps  = "stackmaps"
	Records    = "records"
	Machine    = "machine"
	PatchPoint = "patch_point"
)
