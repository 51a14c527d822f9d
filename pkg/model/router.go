package model

// RouterInfo is one parsed OSPF LSDB router entry from `birdc show ospf
// state all`.
type RouterInfo struct {
	RouterID  string
	Distance  int
	VLinks    []VLink
	Routers   []RouterRef
	StubNets  []Network
	XNetworks []Network
	XRouters  []RouterRef
	Externals []External
	NSSAExt   []External
}

// Network is a metric-tagged prefix (stubnet / xnetwork).
type Network struct {
	Prefix string
	Metric int
}

// RouterRef is a metric-tagged reference to another router (router / xrouter
// lines inside a router block).
type RouterRef struct {
	RouterID string
	Metric   int
}

// VLink is a virtual-link entry.
type VLink struct {
	RouterID string
	Metric   int
}

// External is an `external` or `nssa-ext` line: a redistributed prefix with
// an OSPF metric type, and optional via/tag annotations.
type External struct {
	Prefix     string
	Metric     int
	MetricType int // 1 or 2; 2 iff the "metric2" token is present
	Via        string
	Tag        string
}

// OSPFState is the top-level parse result: routers grouped by area, plus the
// "other ASBRs" section that sits outside any area block.
type OSPFState struct {
	AreaRouters map[string][]RouterInfo
	OtherASBRs  []RouterInfo
}
