package match

const (
	// EngineVersion is the current version of the matching core
	EngineVersion = "v1.0.0"
)
