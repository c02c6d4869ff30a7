package eval

// Driver selects how an engine profile talks to the engine binary.
type Driver string

const (
	// DriverProcess speaks UCI over the process pipes directly; supports
	// multi-PV, movetime and stop.
	DriverProcess Driver = "process"
	// DriverLibrary uses github.com/freeeve/uci; depth-only, single line.
	DriverLibrary Driver = "library"
)

// Profile is one engine configuration in a substitution chain.
type Profile struct {
	Name    string            `mapstructure:"name" json:"name"`
	Driver  Driver            `mapstructure:"driver" json:"driver"`
	Path    string            `mapstructure:"path" json:"path"`
	Args    []string          `mapstructure:"args" json:"args,omitempty"`
	Threads int               `mapstructure:"threads" json:"threads"`
	HashMB  int               `mapstructure:"hash_mb" json:"hash_mb"`
	MultiPV int               `mapstructure:"multipv" json:"multipv"`
	Nice    int               `mapstructure:"nice" json:"nice,omitempty"`
	Options map[string]string `mapstructure:"options" json:"options,omitempty"`
}

func (p Profile) withDefaults() Profile {
	if p.Name == "" {
		p.Name = string(p.Driver)
	}
	if p.Threads == 0 {
		p.Threads = 1
	}
	if p.HashMB == 0 {
		p.HashMB = 16
	}
	if p.MultiPV == 0 {
		p.MultiPV = 1
	}
	if p.Nice > 19 {
		p.Nice = 19
	}
	return p
}

// DefaultProfiles returns the standard chain for one engine binary:
// full (large hash, two lines), lite (small hash, two lines), and basic
// (library driver, one line).
func DefaultProfiles(path string) []Profile {
	return []Profile{
		{Name: "full", Driver: DriverProcess, Path: path, Threads: 1, HashMB: 128, MultiPV: 2},
		{Name: "lite", Driver: DriverProcess, Path: path, Threads: 1, HashMB: 16, MultiPV: 2},
		{Name: "basic", Driver: DriverLibrary, Path: path, Threads: 1, HashMB: 16, MultiPV: 1},
	}
}

// maxHashMB returns the largest hash size in the chain.
func maxHashMB(profiles []Profile) int {
	m := 0
	for _, p := range profiles {
		if p.HashMB > m {
			m = p.HashMB
		}
	}
	return m
}
