package model

// OSPFInterfaceConfig is one interface's entry inside an OSPF area block.
type OSPFInterfaceConfig struct {
	Area int
	Cost int    // 0 = omit
	Type string // "ptp", "broadcast", ... ; "" = omit
	Auth string // HMAC-SHA-512 key; "" = no authentication block
}

// BFDInterfaceConfig is one interface's BFD tuning, omitted entirely from
// the rendered config when absent for that interface.
type BFDInterfaceConfig struct {
	IntervalMs int
	TxMs       int
	RxMs       int
	IdleMs     int
	Multiplier int
}

// RouterConfigSpec is the full structured input to the routing-daemon
// config generator.
type RouterConfigSpec struct {
	RouterID               string
	DirectInterfaceNames   []string
	OSPFImportExcludeCIDRs []string
	OSPFExportExcludeCIDRs []string
	OSPFAreaConfig         map[string]map[string]OSPFInterfaceConfig // areaID -> ifname -> config
	BFDConfig              map[string]BFDInterfaceConfig             // ifname -> config
	DebugProtocols         string
	DisableLogging         bool
	GitVersion             string
	// Timestamp is a parameter rather than wall-clock time so rendering is
	// deterministic for tests; empty omits the comment line entirely.
	Timestamp string
}
