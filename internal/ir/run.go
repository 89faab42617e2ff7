package ir

import "fmt"

// RunInput is everything a verification or instrumentation result depends
// on. Two runs with equal keys produce byte-identical results.
type RunInput struct {
	Mode                 string // "verify" or "instrument"
	Version              int
	DuringInitialization bool
	AllowSelfCharged     bool
	WhitelistDigest      string
	CostVersion          int // ignored for verify
	Module               [][]byte
	Classpath            [][]byte
}

// Key is the content-addressed cache key of the run.
func (in RunInput) Key() (string, error) {
	if in.Mode == "" {
		return "", fmt.Errorf("run key: mode is required")
	}
	return Hash(DomainRun, in.object())
}

// object is the canonical value hashed by Key.
func (in RunInput) object() Object {
	obj := Object{
		"format":                String(FormatVersion),
		"tool":                  String(ToolVersion),
		"mode":                  String(in.Mode),
		"version":               Int(in.Version),
		"during_initialization": Bool(in.DuringInitialization),
		"allow_self_charged":    Bool(in.AllowSelfCharged),
		"whitelist":             String(in.WhitelistDigest),
		"module":                digests(in.Module),
		"classpath":             digests(in.Classpath),
	}
	if in.Mode != "verify" {
		obj["cost_version"] = Int(in.CostVersion)
	}
	return obj
}

func digests(classes [][]byte) Array {
	arr := make(Array, len(classes))
	for i, c := range classes {
		arr[i] = String(ClassDigest(c))
	}
	return arr
}
